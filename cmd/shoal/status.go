/*
 * Tencent is pleased to support the open source community by making TKEStack available.
 *
 * Copyright (C) 2012-2019 Tencent. All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use
 * this file except in compliance with the License. You may obtain a copy of the
 * License at
 *
 * https://opensource.org/licenses/Apache-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
 * WARRANTIES OF ANY KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations under the License.
 */

package main

import (
	"github.com/spf13/cobra"

	"github.com/shoal-db/shoal/pkg/service"
)

var statusCfg = struct {
	server string
}{}

func init() {
	statusCmd.Flags().StringVar(&statusCfg.server, "server", defaultServer, "control server url")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the merged cluster view",
	Long: `status asks the control server for the plan, the supervisor's runtimes,
the coordinator's node list and the tracked membership, merged per node`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}

		view, err := service.NewClient(statusCfg.server).Cluster()
		if err != nil {
			return err
		}
		return printJSON(view)
	},
}

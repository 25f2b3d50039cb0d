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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shoal-db/shoal/pkg/service"
)

var logsCfg = struct {
	server string
	tail   int64
}{}

func init() {
	logsCmd.Flags().StringVar(&logsCfg.server, "server", defaultServer, "control server url")
	logsCmd.Flags().Int64Var(&logsCfg.tail, "tail", 500, "how many log lines to fetch")
	rootCmd.AddCommand(logsCmd)
}

var logsCmd = &cobra.Command{
	Use:   "logs <node>",
	Short: "print the log tail of one node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logs, err := service.NewClient(logsCfg.server).Logs(args[0], logsCfg.tail)
		if err != nil {
			return err
		}
		fmt.Print(logs)
		return nil
	},
}

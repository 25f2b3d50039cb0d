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
	"context"

	"github.com/spf13/cobra"

	"github.com/shoal-db/shoal/pkg/service"
)

var resizeCfg = struct {
	server string
	count  int
}{}

func init() {
	resizeCmd.Flags().StringVar(&resizeCfg.server, "server", "", "control server url, the cluster is driven in process when empty")
	resizeCmd.Flags().IntVar(&resizeCfg.count, "count", -1, "wanted number of workers")
	_ = resizeCmd.MarkFlagRequired("count")
	addStackFlags(resizeCmd)
	rootCmd.AddCommand(resizeCmd)
}

var resizeCmd = &cobra.Command{
	Use:   "resize",
	Short: "grow or shrink the cluster to a worker count",
	Long: `resize converges onto the topology with the wanted number of workers,
growth appends workers at the next free indices, shrinking drains and
removes the highest indices first`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}

		if resizeCfg.server != "" {
			res, err := service.NewClient(resizeCfg.server).Resize(resizeCfg.count)
			if err != nil {
				return err
			}
			return printJSON(res)
		}

		st, err := buildStack()
		if err != nil {
			return err
		}
		rep, next, err := st.ctrl.Resize(context.Background(), st.topology(), resizeCfg.count)
		if err != nil {
			return err
		}
		if next != nil {
			if err := saveTopology(next); err != nil {
				return err
			}
		}
		return printJSON(rep)
	},
}

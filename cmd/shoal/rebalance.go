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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shoal-db/shoal/pkg/service"
)

var rebalanceCfg = struct {
	server string
	job    string
}{}

func init() {
	addStackFlags(rebalanceCmd)
	rebalanceCmd.Flags().StringVar(&rebalanceCfg.server, "server", "", "control server url, the engine is driven in process when empty")
	rebalanceCmd.Flags().StringVar(&rebalanceCfg.job, "job", "", "report the state of this job instead of starting a new run")
	rootCmd.AddCommand(rebalanceCmd)
}

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "redistribute shards across the workers",
	Long: `rebalance starts a shard redistribution run inside the engine and prints
its job id, rerun with --job to watch the job's progress, converge kicks
a run automatically after new workers join so this is for retries`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}

		if rebalanceCfg.server != "" {
			cli := service.NewClient(rebalanceCfg.server)
			if rebalanceCfg.job != "" {
				st, err := cli.RebalanceStatus(rebalanceCfg.job)
				if err != nil {
					return err
				}
				return printJSON(st)
			}
			res, err := cli.Rebalance()
			if err != nil {
				return err
			}
			return printJSON(res)
		}

		st, err := buildStack()
		if err != nil {
			return err
		}
		if rebalanceCfg.job != "" {
			state, serr := st.eng.RebalanceStatus(context.Background(), rebalanceCfg.job)
			if serr != nil {
				return serr
			}
			return printJSON(&service.RebalanceStatusResult{Job: rebalanceCfg.job, State: state})
		}
		job, err := st.ctrl.Rebalance(context.Background(), st.topology())
		if err != nil {
			return err
		}
		fmt.Printf("rebalance job %s started\n", job)
		return nil
	},
}

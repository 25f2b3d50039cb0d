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
	"github.com/shoal-db/shoal/pkg/topology"
)

var workerCfg = struct {
	server string
	host   string
	port   int
	force  bool
}{}

func init() {
	workerAddCmd.Flags().StringVar(&workerCfg.server, "server", "", "control server url, the cluster is driven in process when empty")
	workerAddCmd.Flags().StringVar(&workerCfg.host, "host", "", "host of the new worker, derived from the topology when empty")
	workerAddCmd.Flags().IntVar(&workerCfg.port, "port", 0, "port of the new worker, derived from the topology when zero")
	addStackFlags(workerAddCmd)

	workerRemoveCmd.Flags().StringVar(&workerCfg.server, "server", "", "control server url, the cluster is driven in process when empty")
	workerRemoveCmd.Flags().BoolVar(&workerCfg.force, "force", false, "skip the drain, shards still on the worker are lost")
	addStackFlags(workerRemoveCmd)

	workerCmd.AddCommand(workerAddCmd, workerRemoveCmd)
	rootCmd.AddCommand(workerCmd)
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "grow or shrink the cluster one worker at a time",
}

var workerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "add one worker at the next free index",
	Long: `add extends the topology by one worker, starts it, waits for readiness and
registers it with the coordinator, existing nodes are not touched`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}

		if workerCfg.server != "" {
			res, err := service.NewClient(workerCfg.server).AddWorker(&service.AddWorkerRequest{
				Host: workerCfg.host,
				Port: workerCfg.port,
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		}

		st, err := buildStack()
		if err != nil {
			return err
		}
		rep, next, err := st.ctrl.AddWorker(context.Background(), st.topology(), topology.WorkerSpec{
			Host: workerCfg.host,
			Port: workerCfg.port,
		})
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

var workerRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "drain one worker and take it out of the cluster",
	Long: `remove drains the shards off the named worker, deregisters it and stops its
runtime, only the worker with the highest index can go, force skips the
drain and loses the shards still on the node`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		if workerCfg.server != "" {
			res, err := service.NewClient(workerCfg.server).RemoveWorker(name, workerCfg.force)
			if err != nil {
				return err
			}
			return printJSON(res)
		}

		st, err := buildStack()
		if err != nil {
			return err
		}
		rep, next, err := st.ctrl.RemoveWorker(context.Background(), st.topology(), name, workerCfg.force)
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

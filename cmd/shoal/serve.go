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

var serveCfg = struct {
	webAddress string
}{}

func init() {
	addStackFlags(serveCmd)
	serveCmd.Flags().StringVar(&serveCfg.webAddress, "web.address", ":9600", "server bind address")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the control api server",
	Long: `serve loads the topology file and exposes the cluster operations over http,
mutations run one at a time, a concurrent one is rejected`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}

		st, err := buildStack()
		if err != nil {
			return err
		}
		lg := st.lg

		// membership records start from what the coordinator already knows,
		// an unreachable coordinator is not fatal for serving
		if err := st.reg.Reconcile(context.Background()); err != nil {
			lg.Warnf("reconcile membership: %v", err)
		}

		st.tManager.AddReloadCallbacks(func(info *topology.Info) error {
			plan, perr := st.gen.Plan(info.Topology)
			if perr != nil {
				return perr
			}
			if plan.Hash != st.ctrl.LastApplied() {
				lg.Infof("topology reloaded, plan %s is not applied yet, run converge", plan.Hash)
			}
			return nil
		})

		svc := service.NewService(
			stackCfg.topologyFile,
			st.tManager,
			st.gen,
			st.sup,
			st.eng,
			st.reg,
			st.ctrl,
			st.registry,
			lg.WithField("component", "web"))

		lg.Infof("api start at %s", serveCfg.webAddress)
		return svc.Run(serveCfg.webAddress)
	},
}

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

	"github.com/shoal-db/shoal/pkg/generate"
	"github.com/shoal-db/shoal/pkg/service"
	"github.com/shoal-db/shoal/pkg/topology"
)

var planCfg = struct {
	topologyFile string
	image        string
	server       string
}{}

func init() {
	planCmd.Flags().StringVar(&planCfg.topologyFile, "topology.file", "topology.yaml", "topology file path")
	planCmd.Flags().StringVar(&planCfg.image, "engine.image", "", "override the engine image of all nodes")
	planCmd.Flags().StringVar(&planCfg.server, "server", "", "control server url, the local topology file is used when empty")
	rootCmd.AddCommand(planCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "print the generated node plan",
	Long: `plan renders the node definitions and the content hash the topology
produces, without touching the cluster, equal topologies always print
identical plans`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}

		var (
			p   *generate.Plan
			err error
		)
		if planCfg.server != "" {
			p, err = service.NewClient(planCfg.server).Plan()
		} else {
			var t *topology.Topology
			t, err = topology.Load(planCfg.topologyFile)
			if err != nil {
				return err
			}
			p, err = generate.New(generate.Options{Image: planCfg.image}).Plan(t)
		}
		if err != nil {
			return err
		}

		data, err := p.Bytes()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

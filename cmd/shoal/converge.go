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

	"github.com/shoal-db/shoal/pkg/lifecycle"
	"github.com/shoal-db/shoal/pkg/service"
)

var convergeCfg = struct {
	server string
}{}

func init() {
	addStackFlags(convergeCmd)
	convergeCmd.Flags().StringVar(&convergeCfg.server, "server", "", "control server url, the cluster is driven in process when empty")
	rootCmd.AddCommand(convergeCmd)
}

var convergeCmd = &cobra.Command{
	Use:   "converge",
	Short: "drive the cluster to the topology",
	Long: `converge starts missing nodes, waits for their readiness, registers new
workers with the coordinator and removes nodes the topology dropped,
running nodes that match the topology are left untouched`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}

		var (
			rep *lifecycle.Report
			err error
		)
		if convergeCfg.server != "" {
			rep, err = service.NewClient(convergeCfg.server).Converge()
			if err != nil {
				return err
			}
		} else {
			st, berr := buildStack()
			if berr != nil {
				return berr
			}
			rep, err = st.ctrl.Converge(context.Background(), st.topology())
			if err != nil {
				return err
			}
		}

		if perr := printJSON(rep); perr != nil {
			return perr
		}
		if rep.Outcome != lifecycle.OutcomeConverged {
			return fmt.Errorf("converge ended %s", rep.Outcome)
		}
		return nil
	},
}

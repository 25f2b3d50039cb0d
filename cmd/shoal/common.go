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
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/shoal-db/shoal/pkg/engine"
	"github.com/shoal-db/shoal/pkg/engine/postgres"
	"github.com/shoal-db/shoal/pkg/generate"
	"github.com/shoal-db/shoal/pkg/lifecycle"
	"github.com/shoal-db/shoal/pkg/probe"
	"github.com/shoal-db/shoal/pkg/register"
	"github.com/shoal-db/shoal/pkg/supervisor"
	k8s_supervisor "github.com/shoal-db/shoal/pkg/supervisor/kubernetes"
	"github.com/shoal-db/shoal/pkg/supervisor/static"
	"github.com/shoal-db/shoal/pkg/topology"
)

// defaultServer matches the default web.address of serve
const defaultServer = "http://127.0.0.1:9600"

var stackCfg = struct {
	topologyFile     string
	image            string
	supervisorKind   string
	kubeNamespace    string
	kubeConfig       string
	engineHost       string
	enginePort       int
	sslMode          string
	waitTimeout      time.Duration
	parallelism      int
	registerAttempts int
	drainTimeout     time.Duration
	disableRebalance bool
}{}

// addStackFlags register the flags every command that touches the cluster needs
func addStackFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&stackCfg.topologyFile, "topology.file", "topology.yaml", "topology file path")
	cmd.Flags().StringVar(&stackCfg.image, "engine.image", "", "override the engine image of all nodes")
	cmd.Flags().StringVar(&stackCfg.supervisorKind, "supervisor", "kubernetes", "node runtime supervisor, kubernetes or static")
	cmd.Flags().StringVar(&stackCfg.kubeNamespace, "kube.namespace", "default", "namespace the node pods run in")
	cmd.Flags().StringVar(&stackCfg.kubeConfig, "kube.config", "", "kubeconfig path, the in cluster config is used when empty")
	cmd.Flags().StringVar(&stackCfg.engineHost, "engine.host", "", "coordinator host, defaults to the one of the topology")
	cmd.Flags().IntVar(&stackCfg.enginePort, "engine.port", 0, "coordinator port, defaults to the one of the topology")
	cmd.Flags().StringVar(&stackCfg.sslMode, "engine.sslmode", "", "sslmode of coordinator connections")
	cmd.Flags().DurationVar(&stackCfg.waitTimeout, "wait.timeout", lifecycle.DefaultWaitTimeout, "max time to wait for one node to become ready")
	cmd.Flags().IntVar(&stackCfg.parallelism, "parallelism", 0, "max workers handled at once, 0 means all at once")
	cmd.Flags().IntVar(&stackCfg.registerAttempts, "register.attempts", 0, "engine call budget per registration, 0 uses the default")
	cmd.Flags().DurationVar(&stackCfg.drainTimeout, "drain.timeout", 0, "max time to wait for a drain, 0 uses the default")
	cmd.Flags().BoolVar(&stackCfg.disableRebalance, "rebalance.disable", false, "do not start a rebalance after growing the cluster")
}

// stack is everything a direct cluster operation needs
type stack struct {
	lg       *logrus.Logger
	tManager *topology.Manager
	gen      *generate.Generator
	sup      supervisor.Supervisor
	eng      engine.Engine
	reg      *register.Orchestrator
	ctrl     *lifecycle.Controller
	registry *prometheus.Registry
}

// topology return the currently loaded topology
func (s *stack) topology() *topology.Topology {
	return s.tManager.Info().Topology
}

// buildStack load the topology file and wire supervisor, engine, prober,
// orchestrator and controller from the shared flags
func buildStack() (*stack, error) {
	lg := logrus.New()

	tManager := topology.NewManager()
	if err := tManager.ReloadFromFile(stackCfg.topologyFile); err != nil {
		return nil, err
	}
	t := tManager.Info().Topology

	var sup supervisor.Supervisor
	switch stackCfg.supervisorKind {
	case "static":
		sup = static.New(lg.WithField("component", "supervisor"))
	case "kubernetes":
		kcfg, err := kubeConfig()
		if err != nil {
			return nil, err
		}
		cli, err := kubernetes.NewForConfig(kcfg)
		if err != nil {
			return nil, err
		}
		sup = k8s_supervisor.New(cli, stackCfg.kubeNamespace, t.Name, lg.WithField("component", "supervisor"))
	default:
		return nil, fmt.Errorf("unknown supervisor %q", stackCfg.supervisorKind)
	}

	host, port := stackCfg.engineHost, stackCfg.enginePort
	if host == "" && t.Coordinator != nil {
		host, port = t.Coordinator.Host, t.Coordinator.Port
	}
	if host == "" {
		return nil, fmt.Errorf("the topology has no coordinator, set engine.host and engine.port")
	}

	eng, err := postgres.New(postgres.Config{
		Host:        host,
		Port:        port,
		Credentials: t.Credentials,
		SSLMode:     stackCfg.sslMode,
	}, lg.WithField("component", "engine"))
	if err != nil {
		return nil, err
	}

	prober := probe.New(postgres.NewChecker(t.Credentials), probe.Config{}, lg.WithField("component", "probe"))
	reg := register.New(eng, register.Config{
		RegisterAttempts: stackCfg.registerAttempts,
		DrainTimeout:     stackCfg.drainTimeout,
	}, lg.WithField("component", "register"))

	registry := prometheus.NewRegistry()
	ctrl := lifecycle.New(generate.New(generate.Options{Image: stackCfg.image}), sup, eng, prober, reg, lifecycle.Config{
		WaitTimeout:      stackCfg.waitTimeout,
		Parallelism:      stackCfg.parallelism,
		DisableRebalance: stackCfg.disableRebalance,
	}, registry, lg.WithField("component", "lifecycle"))

	return &stack{
		lg:       lg,
		tManager: tManager,
		gen:      generate.New(generate.Options{Image: stackCfg.image}),
		sup:      sup,
		eng:      eng,
		reg:      reg,
		ctrl:     ctrl,
		registry: registry,
	}, nil
}

func kubeConfig() (*rest.Config, error) {
	if stackCfg.kubeConfig != "" {
		return clientcmd.BuildConfigFromFlags("", stackCfg.kubeConfig)
	}
	return rest.InClusterConfig()
}

// saveTopology write the topology produced by an operation back to the file,
// so that the file keeps describing the actual cluster
func saveTopology(next *topology.Topology) error {
	data, err := yaml.Marshal(next)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(stackCfg.topologyFile, data, 0644)
}

// printJSON render api results for the operator
func printJSON(obj interface{}) error {
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

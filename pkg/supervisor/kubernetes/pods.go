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

// Package kubernetes supervise cluster nodes as one pod per node
package kubernetes

import (
	"context"
	"io"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"
	k8serr "k8s.io/apimachinery/pkg/api/errors"
	v12 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"

	"github.com/shoal-db/shoal/pkg/generate"
	"github.com/shoal-db/shoal/pkg/supervisor"
	"github.com/shoal-db/shoal/pkg/topology"
	"github.com/shoal-db/shoal/pkg/utils/k8sutil"
	"github.com/shoal-db/shoal/pkg/utils/types"
)

const (
	// annotationHost and annotationPort carry the node address so List can
	// rebuild handles without the topology at hand
	annotationHost = "shoal.io/host"
	annotationPort = "shoal.io/port"
	containerName  = "engine"
)

// Supervisor manage nodes as single pods selected by the cluster label
type Supervisor struct {
	// namespace is the namespace all pods of the cluster live in
	namespace string
	// cluster scopes every list operation to one cluster
	cluster string
	cli     kubernetes.Interface
	lg      logrus.FieldLogger
	getPod  func(ctx context.Context, name string) (*v1.Pod, error)
	getPods func(ctx context.Context) (*v1.PodList, error)
}

// New create a pod supervisor for one cluster in one namespace
func New(cli kubernetes.Interface, namespace, cluster string, log logrus.FieldLogger) *Supervisor {
	return &Supervisor{
		namespace: namespace,
		cluster:   cluster,
		cli:       cli,
		lg:        log,
		getPod: func(ctx context.Context, name string) (*v1.Pod, error) {
			return cli.CoreV1().Pods(namespace).Get(ctx, name, v12.GetOptions{})
		},
		getPods: func(ctx context.Context) (*v1.PodList, error) {
			return cli.CoreV1().Pods(namespace).List(ctx, v12.ListOptions{
				LabelSelector: labels.SelectorFromSet(map[string]string{
					generate.LabelCluster: cluster,
				}).String(),
			})
		},
	}
}

// Start implement supervisor.Supervisor
// a pod that already exists is adopted, the content hash decides elsewhere
// whether it must be replaced
func (s *Supervisor) Start(ctx context.Context, node *generate.NodeDefinition) error {
	_, err := s.cli.CoreV1().Pods(s.namespace).Create(ctx, s.pod(node), v12.CreateOptions{})
	if k8serr.IsAlreadyExists(err) {
		s.lg.Infof("%s already exists, adopt it", node.Name)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "create pod %s", node.Name)
	}

	s.lg.Infof("created pod %s", node.Name)
	return nil
}

// Stop implement supervisor.Supervisor
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	err := s.cli.CoreV1().Pods(s.namespace).Delete(ctx, name, v12.DeleteOptions{})
	if k8serr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "delete pod %s", name)
	}

	s.lg.Infof("deleted pod %s", name)
	return nil
}

// Status implement supervisor.Supervisor
func (s *Supervisor) Status(ctx context.Context, name string) (supervisor.Status, error) {
	p, err := s.getPod(ctx, name)
	if k8serr.IsNotFound(err) {
		return supervisor.StatusStopped, nil
	}
	if err != nil {
		return supervisor.StatusUnknown, errors.Wrapf(err, "get pod %s", name)
	}

	if p.DeletionTimestamp != nil {
		return supervisor.StatusUnknown, nil
	}

	switch p.Status.Phase {
	case v1.PodRunning:
		if k8sutil.IsPodReady(p) {
			return supervisor.StatusRunning, nil
		}
		return supervisor.StatusUnknown, nil
	case v1.PodFailed, v1.PodSucceeded:
		return supervisor.StatusStopped, nil
	default:
		return supervisor.StatusUnknown, nil
	}
}

// Logs implement supervisor.Supervisor
func (s *Supervisor) Logs(ctx context.Context, name string, tailLines int64) (io.ReadCloser, error) {
	opt := &v1.PodLogOptions{Container: containerName}
	if tailLines > 0 {
		opt.TailLines = types.Int64Ptr(tailLines)
	}

	ret, err := s.cli.CoreV1().Pods(s.namespace).GetLogs(name, opt).Stream(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "read logs of %s", name)
	}
	return ret, nil
}

// List implement supervisor.Supervisor
func (s *Supervisor) List(ctx context.Context) ([]supervisor.Handle, error) {
	pods, err := s.getPods(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "list pods")
	}

	ret := make([]supervisor.Handle, 0, len(pods.Items))
	for _, p := range pods.Items {
		index, _ := strconv.Atoi(p.Labels[generate.LabelIndex])
		port, _ := strconv.Atoi(p.Annotations[annotationPort])
		ret = append(ret, supervisor.Handle{
			Name:  p.Name,
			Role:  generate.Role(p.Labels[generate.LabelRole]),
			Index: index,
			Addr:  topology.NodeAddr{Host: p.Annotations[annotationHost], Port: port},
		})
	}

	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}

func (s *Supervisor) pod(node *generate.NodeDefinition) *v1.Pod {
	keys := make([]string, 0, len(node.Environment))
	for k := range node.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]v1.EnvVar, 0, len(keys))
	for _, k := range keys {
		env = append(env, v1.EnvVar{Name: k, Value: node.Environment[k]})
	}

	p := &v1.Pod{}
	p.Name = node.Name
	p.Namespace = s.namespace
	p.Labels = node.Labels
	p.Annotations = map[string]string{
		annotationHost: node.Addr.Host,
		annotationPort: strconv.Itoa(node.Addr.Port),
	}
	p.Spec.Containers = []v1.Container{
		{
			Name:  containerName,
			Image: node.Image,
			Env:   env,
			Ports: []v1.ContainerPort{
				{
					Name:          "sql",
					ContainerPort: int32(node.Addr.Port),
				},
			},
		},
	}
	return p
}

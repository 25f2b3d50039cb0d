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

package service

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/shoal-db/shoal/pkg/api"
	"github.com/shoal-db/shoal/pkg/generate"
	"github.com/shoal-db/shoal/pkg/lifecycle"
)

// Client is the typed client of the control api, the command line uses it
type Client struct {
	url string
}

// NewClient return a client of the control server at url
func NewClient(url string) *Client {
	return &Client{url: strings.TrimSuffix(url, "/")}
}

// Converge ask the server to converge onto its current topology
func (c *Client) Converge() (*lifecycle.Report, error) {
	ret := &lifecycle.Report{}
	return ret, api.Post(fmt.Sprintf("%s/api/v1/converge", c.url), nil, ret)
}

// Plan fetch the generated plan of the current topology
func (c *Client) Plan() (*generate.Plan, error) {
	ret := &generate.Plan{}
	return ret, api.Get(fmt.Sprintf("%s/api/v1/plan", c.url), ret)
}

// Cluster fetch the merged cluster view
func (c *Client) Cluster() (*ClusterView, error) {
	ret := &ClusterView{}
	return ret, api.Get(fmt.Sprintf("%s/api/v1/cluster", c.url), ret)
}

// AddWorker ask the server to grow the cluster by one worker
func (c *Client) AddWorker(req *AddWorkerRequest) (*MutationResult, error) {
	ret := &MutationResult{}
	return ret, api.Post(fmt.Sprintf("%s/api/v1/workers", c.url), req, ret)
}

// RemoveWorker ask the server to take the named worker out of the cluster
func (c *Client) RemoveWorker(name string, force bool) (*MutationResult, error) {
	ret := &MutationResult{}
	u := fmt.Sprintf("%s/api/v1/workers/%s", c.url, url.PathEscape(name))
	if force {
		u += "?force=true"
	}
	return ret, api.Delete(u, ret)
}

// Resize ask the server to grow or shrink the cluster to count workers
func (c *Client) Resize(count int) (*MutationResult, error) {
	ret := &MutationResult{}
	return ret, api.Post(fmt.Sprintf("%s/api/v1/resize", c.url), &ResizeRequest{Count: &count}, ret)
}

// Rebalance ask the server to start a data redistribution run
func (c *Client) Rebalance() (*RebalanceResult, error) {
	ret := &RebalanceResult{}
	return ret, api.Post(fmt.Sprintf("%s/api/v1/rebalance", c.url), nil, ret)
}

// RebalanceStatus fetch the state of a redistribution job
func (c *Client) RebalanceStatus(job string) (*RebalanceStatusResult, error) {
	ret := &RebalanceStatusResult{}
	return ret, api.Get(fmt.Sprintf("%s/api/v1/rebalance/%s", c.url, url.PathEscape(job)), ret)
}

// Reload ask the server to reload its topology file
func (c *Client) Reload() error {
	return api.Post(fmt.Sprintf("%s/-/reload", c.url), nil, nil)
}

// Logs fetch the last tail lines of one node's log, the transfer is
// gzip compressed
func (c *Client) Logs(name string, tail int64) (string, error) {
	req, err := http.NewRequest(http.MethodGet,
		fmt.Sprintf("%s/api/v1/nodes/%s/logs?tail=%d", c.url, url.PathEscape(name), tail), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "get logs")
	}
	defer func() { _ = resp.Body.Close() }()

	var rd io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", errors.Wrapf(err, "open gzip")
		}
		defer func() { _ = gz.Close() }()
		rd = gz
	}

	data, err := ioutil.ReadAll(rd)
	if err != nil {
		return "", errors.Wrapf(err, "read logs")
	}
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("%s", strings.TrimSpace(string(data)))
	}
	return string(data), nil
}

// Package config loads the declarative cluster description a
// quorumnode process is started with: the fixed peer set, this
// node's own identity within it, the stable-storage directory, and
// the timing constants of spec section 6.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"quorumnode/internal/membership"
)

// PeerSpec is one entry of the YAML peers list.
type PeerSpec struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Num  int    `yaml:"num"`
}

// raw mirrors the on-disk YAML schema documented in SPEC_FULL.md
// section 6.
type raw struct {
	Self             int        `yaml:"self"`
	StorageDir       string     `yaml:"storageDir"`
	Peers            []PeerSpec `yaml:"peers"`
	SocketDeadlineMs int        `yaml:"socketDeadlineMs"`
	ProposeTimeoutMs int        `yaml:"proposeTimeoutMs"`
	HeartbeatMinMs   int        `yaml:"heartbeatMinMs"`
	HeartbeatMaxMs   int        `yaml:"heartbeatMaxMs"`
	DashboardAddr    string     `yaml:"dashboardAddr"`
	ControlAddr      string     `yaml:"controlAddr"`
}

// Cluster is the parsed, defaulted configuration a Node is built
// from.
type Cluster struct {
	Self       membership.Location
	Peers      []membership.Location
	StorageDir string

	SocketDeadline time.Duration
	ProposeTimeout time.Duration
	HeartbeatMin   time.Duration
	HeartbeatMax   time.Duration

	DashboardAddr string
	ControlAddr   string
}

const (
	defaultSocketDeadlineMs = 5000
	defaultProposeTimeoutMs = 10000
	defaultHeartbeatMinMs   = 1000
	defaultHeartbeatMaxMs   = 2000
	defaultStorageDir       = "stableStorage"
)

// Load reads and parses a cluster YAML file at path, per the schema
// in SPEC_FULL.md section 6, applying spec section 6's defaults for
// any timing constant left at zero.
func Load(path string) (Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Cluster{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var r raw
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Cluster{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if len(r.Peers) == 0 {
		return Cluster{}, fmt.Errorf("config: %s: peers list is empty", path)
	}

	var self membership.Location
	peers := make([]membership.Location, 0, len(r.Peers))
	found := false
	for _, p := range r.Peers {
		loc := membership.Location{Host: p.Host, Port: p.Port, Num: p.Num}
		peers = append(peers, loc)
		if p.Num == r.Self {
			self = loc
			found = true
		}
	}
	if !found {
		return Cluster{}, fmt.Errorf("config: %s: self num %d not present in peers list", path, r.Self)
	}

	c := Cluster{
		Self:           self,
		Peers:          peers,
		StorageDir:     r.StorageDir,
		SocketDeadline: durationOrDefault(r.SocketDeadlineMs, defaultSocketDeadlineMs),
		ProposeTimeout: durationOrDefault(r.ProposeTimeoutMs, defaultProposeTimeoutMs),
		HeartbeatMin:   durationOrDefault(r.HeartbeatMinMs, defaultHeartbeatMinMs),
		HeartbeatMax:   durationOrDefault(r.HeartbeatMaxMs, defaultHeartbeatMaxMs),
		DashboardAddr:  r.DashboardAddr,
		ControlAddr:    r.ControlAddr,
	}
	if c.StorageDir == "" {
		c.StorageDir = defaultStorageDir
	}
	return c, nil
}

func durationOrDefault(ms, defaultMs int) time.Duration {
	if ms <= 0 {
		ms = defaultMs
	}
	return time.Duration(ms) * time.Millisecond
}

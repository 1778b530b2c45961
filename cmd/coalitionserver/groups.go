package main

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/imagvfx/coalition"
)

// Match go-toml.Tree keys to the same order with the file.
// Would be great it can be done with go-toml package, but didn't find the way.
func orderedKeys(t *toml.Tree) []string {
	type keyPos struct {
		Key  string
		Line int
		Col  int
	}
	keys := t.Keys()
	poses := make([]keyPos, 0, len(keys))
	for _, k := range keys {
		subt, ok := t.Get(k).(*toml.Tree)
		if !ok {
			continue
		}
		poses = append(poses, keyPos{
			Key:  k,
			Line: subt.Position().Line,
			Col:  subt.Position().Col,
		})
	}
	sort.Slice(poses, func(i, j int) bool {
		if poses[i].Line != poses[j].Line {
			return poses[i].Line < poses[j].Line
		}
		return poses[i].Col < poses[j].Col
	})
	ordkeys := make([]string, len(poses))
	for i, p := range poses {
		ordkeys[i] = p.Key
	}
	return ordkeys
}

// loadWorkerGroups loads worker groups from a toml file.
// Each table of the file is a group, and a worker takes affinity of the first group it matches.
//
//	[gpu]
//	ips = ["10.0.2.*", "10.0.3.[10-19]"]
//	domains = ["*.gpu.farm"]
//	affinity = "GPU"
func loadWorkerGroups(path string) ([]*coalition.WorkerGroup, error) {
	config, err := toml.LoadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load worker groups")
	}

	type WorkerGroupConfig struct {
		IPs      []string `toml:"ips"`
		Domains  []string `toml:"domains"`
		Affinity string   `toml:"affinity"`
	}
	wgrpCfgs := make(map[string]*WorkerGroupConfig)
	err = config.Unmarshal(&wgrpCfgs)
	if err != nil {
		return nil, errors.Wrapf(err, "load worker groups")
	}

	wgrps := make([]*coalition.WorkerGroup, 0)
	for _, grp := range orderedKeys(config) {
		g := &coalition.WorkerGroup{}
		g.Name = grp
		cfg := wgrpCfgs[grp]
		for _, w := range cfg.IPs {
			m, err := coalition.IPMatcherFromString(w)
			if err != nil {
				return nil, errors.Wrapf(err, "worker group %v", grp)
			}
			g.Matchers = append(g.Matchers, m)
		}
		for _, w := range cfg.Domains {
			m, err := coalition.DomainMatcherFromString(w)
			if err != nil {
				return nil, errors.Wrapf(err, "worker group %v", grp)
			}
			g.Matchers = append(g.Matchers, m)
		}
		g.Affinity = cfg.Affinity
		wgrps = append(wgrps, g)
	}
	return wgrps, nil
}

// watchWorkerGroups reloads worker groups of the farm whenever the file is changed, until ctx is done.
// The farm keeps the previous groups when the file has an error.
func watchWorkerGroups(ctx context.Context, path string, farm *coalition.Farm) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WithStack(err)
	}
	defer w.Close()
	path = filepath.Clean(path)
	// Watch the directory, as editors often replace the file instead of writing to it.
	err = w.Add(filepath.Dir(path))
	if err != nil {
		return errors.WithStack(err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			wgrps, err := loadWorkerGroups(path)
			if err != nil {
				log.Errorf("reload worker groups: %v", err)
				continue
			}
			farm.SetWorkerGroups(wgrps)
			log.WithField("groups", len(wgrps)).Info("worker groups reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Errorf("watch worker groups: %v", err)
		}
	}
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
	"sigs.k8s.io/yaml"
)

// StateRequest maps output names to the state to apply to them.
type StateRequest map[string]string

// readStateFile parses the state request file at path. A missing or empty
// file is an empty request.
func readStateFile(path string) (StateRequest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return StateRequest{}, nil
	}
	if err != nil {
		return nil, err
	}
	req := StateRequest{}
	if err = yaml.UnmarshalStrict(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode state file %s: %w", path, err)
	}
	return req, nil
}

// applyStateFile applies every request of the state file, in output name
// order. A failing output does not prevent the others from being applied.
func (dn *Daemon) applyStateFile(ctx context.Context) error {
	req, err := readStateFile(dn.opts.StateFile)
	if err != nil {
		return err
	}
	outputs := make([]string, 0, len(req))
	for o := range req {
		outputs = append(outputs, o)
	}
	sort.Strings(outputs)

	var errs []error
	for _, o := range outputs {
		glog.Infof("state request: %s -> %s", o, req[o])
		if err := dn.ApplyState(ctx, o, req[o]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// watchStateFile applies the state file once, then again whenever it is
// written, until ctx is done. The parent directory is watched so that
// files replaced by rename are seen as well.
func (dn *Daemon) watchStateFile(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(dn.opts.StateFile)
	if err = watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	glog.Infof("watching state requests in %s", dn.opts.StateFile)

	if err = dn.applyStateFile(ctx); err != nil {
		glog.Errorf("state file: %v", err)
	}
	base := filepath.Base(dn.opts.StateFile)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify watcher channel closed")
			}
			if filepath.Base(ev.Name) != base || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			glog.V(2).Infof("state file changed (op: %s)", ev.Op.String())
			if err := dn.applyStateFile(ctx); err != nil {
				glog.Errorf("state file: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify watcher error channel closed")
			}
			glog.Errorf("fsnotify watcher error: %v", err)
		case <-ctx.Done():
			return nil
		}
	}
}

package fsmonitor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/jj-vcs/jj-go/internal/repopath"
)

// WatchmanMonitor talks to a running watchman daemon over its unix
// socket using the JSON protocol: one JSON array request per line, one
// JSON object response per line.
type WatchmanMonitor struct {
	workingCopyRoot string
	sockname        string
}

// NewWatchman locates the watchman socket via `watchman get-sockname`.
func NewWatchman(workingCopyRoot string) (*WatchmanMonitor, error) {
	out, err := exec.Command("watchman", "get-sockname").Output()
	if err != nil {
		return nil, fmt.Errorf("watchman not available: %w", err)
	}
	var resp struct {
		Sockname string `json:"sockname"`
	}
	if err := json.Unmarshal(out, &resp); err != nil || resp.Sockname == "" {
		return nil, fmt.Errorf("cannot parse watchman get-sockname output")
	}
	return &WatchmanMonitor{workingCopyRoot: workingCopyRoot, sockname: resp.Sockname}, nil
}

func (m *WatchmanMonitor) call(request []any, response any) error {
	conn, err := net.DialTimeout("unix", m.sockname, 5*time.Second)
	if err != nil {
		return fmt.Errorf("cannot reach watchman: %w", err)
	}
	defer conn.Close()
	enc := json.NewEncoder(conn)
	if err := enc.Encode(request); err != nil {
		return err
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return err
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(line, &envelope); err != nil {
		return err
	}
	if errMsg, ok := envelope["error"]; ok {
		return fmt.Errorf("watchman: %s", string(errMsg))
	}
	return json.Unmarshal(line, response)
}

// Query implements Monitor. The first call (empty clock) registers the
// watch and only returns a clock; later calls return the files watchman
// saw change since the recorded clock.
func (m *WatchmanMonitor) Query(previousClock string) ([]repopath.RepoPath, string, error) {
	var watch struct {
		Watch        string `json:"watch"`
		RelativePath string `json:"relative_path"`
	}
	if err := m.call([]any{"watch-project", m.workingCopyRoot}, &watch); err != nil {
		return nil, "", err
	}

	if previousClock == "" {
		var clock struct {
			Clock string `json:"clock"`
		}
		if err := m.call([]any{"clock", watch.Watch}, &clock); err != nil {
			return nil, "", err
		}
		return nil, clock.Clock, nil
	}

	query := map[string]any{
		"since":  previousClock,
		"fields": []string{"name"},
	}
	if watch.RelativePath != "" {
		query["relative_root"] = watch.RelativePath
	}
	var result struct {
		Clock string   `json:"clock"`
		Files []string `json:"files"`
	}
	if err := m.call([]any{"query", watch.Watch, query}, &result); err != nil {
		return nil, "", err
	}
	var changed []repopath.RepoPath
	for _, name := range result.Files {
		if strings.HasPrefix(name, ".jj/") || name == ".jj" {
			continue
		}
		if p, ok := repopath.FromFSPath(name); ok {
			changed = append(changed, p)
		}
	}
	return changed, result.Clock, nil
}

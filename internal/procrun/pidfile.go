package procrun

import (
	"os"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"
)

// PIDFile records which OS process currently owns a role, so a restarted
// daemon can re-attach to a still-running external process instead of
// spawning a second one against the same device or output path.
type PIDFile struct {
	Path string
}

func (m PIDFile) Write(pid int) error {
	return renameio.WriteFile(m.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

func (m PIDFile) Clear() {
	_ = os.Remove(m.Path)
}

// Attach returns the recorded PID if the marker points at a live process
// whose command name contains expectComm. A marker for a dead or recycled
// PID is removed so the next start launches cleanly.
func (m PIDFile) Attach(expectComm string) (int, bool) {
	raw, err := os.ReadFile(m.Path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		m.Clear()
		return 0, false
	}
	if !PIDAlive(pid) {
		m.Clear()
		return 0, false
	}
	comm := PIDCommand(pid)
	if comm == "" || !strings.Contains(comm, expectComm) {
		// PID reuse: something else lives there now.
		m.Clear()
		return 0, false
	}
	return pid, true
}

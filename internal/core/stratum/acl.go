package stratum

import (
	"bufio"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const minAPIKeyLength = 8

// AccessControl is the hot-reloadable set of miner API keys backed by a plain
// text file, one key per line. With an empty file name access control is
// disabled and every key passes.
type AccessControl struct {
	enabled      bool
	keysFileName string
	lastModified time.Time
	keys         atomic.Pointer[map[string]struct{}]
	log          *zap.Logger
}

func NewAccessControl(keysFileName string, log *zap.Logger) *AccessControl {
	a := &AccessControl{
		enabled:      keysFileName != "",
		keysFileName: keysFileName,
		log:          log,
	}
	empty := map[string]struct{}{}
	a.keys.Store(&empty)
	a.Refresh()
	return a
}

// Refresh rereads the key file if its modification time advanced since the
// last load. The new set replaces the old one atomically.
func (a *AccessControl) Refresh() {
	if !a.enabled {
		return
	}

	st, err := os.Stat(a.keysFileName)
	if err != nil {
		a.log.Error("cannot stat api keys file", zap.Error(err))
		return
	}
	if !st.ModTime().After(a.lastModified) {
		return
	}
	a.lastModified = st.ModTime()

	f, err := os.Open(a.keysFileName)
	if err != nil {
		a.log.Error("cannot open api keys file", zap.Error(err))
		return
	}
	defer f.Close()

	keys := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) < minAPIKeyLength {
			continue
		}
		keys[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		a.log.Error("cannot read api keys file", zap.Error(err))
		return
	}

	a.keys.Store(&keys)
	a.log.Debug("api keys reloaded", zap.Int("count", len(keys)))
}

func (a *AccessControl) Check(key string) bool {
	if !a.enabled {
		return true
	}
	_, ok := (*a.keys.Load())[key]
	return ok
}

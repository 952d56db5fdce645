package libs

import (
	"sync"
	"time"

	"github.com/oarkflow/anchor/pkg/models"
)

// AnchorLogoutTracker remembers when an anchor last logged out so sessions
// issued before that moment are rejected.
type AnchorLogoutTracker struct {
	logoutTimes map[models.AnchorNumber]int64
	mu          sync.RWMutex
}

func NewAnchorLogoutTracker() *AnchorLogoutTracker {
	return &AnchorLogoutTracker{
		logoutTimes: make(map[models.AnchorNumber]int64),
	}
}

func (t *AnchorLogoutTracker) SetLogout(anchor models.AnchorNumber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logoutTimes[anchor] = time.Now().Unix()
}

func (t *AnchorLogoutTracker) IsLoggedOut(anchor models.AnchorNumber, issuedAt int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	logoutTime, exists := t.logoutTimes[anchor]
	if !exists {
		return false
	}
	return issuedAt < logoutTime
}

func (t *AnchorLogoutTracker) ClearLogout(anchor models.AnchorNumber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.logoutTimes, anchor)
}

package isapi

import "fmt"

// Kind enumerates the remote operations accessd can dispatch.
type Kind string

const (
	KindOpenDoor        Kind = "open_door"
	KindCloseDoor       Kind = "close_door"
	KindReboot          Kind = "reboot"
	KindSyncTime        Kind = "sync_time"
	KindWhitelistAdd    Kind = "whitelist_add"
	KindWhitelistUpdate Kind = "whitelist_update"
	KindWhitelistDelete Kind = "whitelist_delete"
	KindWhitelistQuery  Kind = "whitelist_query"
)

var allKinds = []Kind{
	KindOpenDoor, KindCloseDoor, KindReboot, KindSyncTime,
	KindWhitelistAdd, KindWhitelistUpdate, KindWhitelistDelete, KindWhitelistQuery,
}

// Kinds returns every supported kind.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range allKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	_, err := ParseKind(string(k))
	return err == nil
}

// IsWhitelist reports whether k operates on the controller's user list.
func (k Kind) IsWhitelist() bool {
	switch k {
	case KindWhitelistAdd, KindWhitelistUpdate, KindWhitelistDelete, KindWhitelistQuery:
		return true
	}
	return false
}

// Retryable reports whether a failed command of this kind goes to the
// dead-letter queue. Only kinds that are idempotent on the device qualify;
// door and reboot commands fail fast.
func (k Kind) Retryable() bool {
	switch k {
	case KindWhitelistAdd, KindWhitelistUpdate, KindWhitelistDelete, KindSyncTime:
		return true
	}
	return false
}

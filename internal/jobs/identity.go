package jobs

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

type identityKind int

const (
	kindNone identityKind = iota
	kindExplicit
	kindFingerprint
	kindFresh
)

// Identity names the job a submission refers to. The zero value is invalid:
// callers must choose between an explicit id, a fingerprint of the work, or a
// fresh id that opts out of deduplication.
type Identity struct {
	id   string
	kind identityKind
}

// ExplicitID uses a caller-supplied stable id.
func ExplicitID(id string) Identity {
	if id == "" {
		return Identity{}
	}
	return Identity{id: id, kind: kindExplicit}
}

// Fingerprint derives a stable id from the operation and its arguments, so
// identical submissions share one job.
func Fingerprint(operation string, args map[string]any) (Identity, error) {
	if operation == "" {
		return Identity{}, fmt.Errorf("operation is empty")
	}
	if args == nil {
		args = map[string]any{}
	}
	// encoding/json sorts map keys, which makes the encoding canonical
	canonical, err := json.Marshal(args)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to encode arguments for fingerprint: %w", err)
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to create hash: %w", err)
	}
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write(canonical)

	return Identity{id: operation + "-" + hex.EncodeToString(h.Sum(nil))[:32], kind: kindFingerprint}, nil
}

// Fresh returns a random id. Submissions with fresh ids never deduplicate.
func Fresh() Identity {
	return Identity{id: uuid.NewString(), kind: kindFresh}
}

// ID returns the job id.
func (i Identity) ID() string {
	return i.id
}

// IsZero reports whether no identity was chosen.
func (i Identity) IsZero() bool {
	return i.kind == kindNone || i.id == ""
}

func (i Identity) String() string {
	switch i.kind {
	case kindExplicit:
		return "explicit:" + i.id
	case kindFingerprint:
		return "fingerprint:" + i.id
	case kindFresh:
		return "fresh:" + i.id
	default:
		return "none"
	}
}

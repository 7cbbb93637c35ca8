package security

import "fmt"

// ServerNodePassword is the minimal view of a ServerNode's encrypted
// peer password CredentialManager.ChangeOwnerPassword needs to rotate —
// decoupled from pkg/model/pkg/storage to avoid an import cycle.
type ServerNodePassword struct {
	NodeID    string
	Encrypted []byte
}

// ChangeOwnerPassword verifies the current owner password, hashes the
// new one, and re-encrypts every ServerNode peer password so it can be
// decrypted with a key derived from the new password. Verification of
// the current password must succeed before any re-encryption happens.
//
// It does not touch storage; callers (pkg/changelog / pkg/storage/ops)
// are expected to run this inside the write transaction that persists
// LocalNode.OwnerPasswordHash and the rotated ServerNode rows, rolling
// back everything if any step fails.
func ChangeOwnerPassword(currentHash, currentPassword, newPassword string, peers []ServerNodePassword) (newHash string, rotated []ServerNodePassword, err error) {
	ok, err := VerifyPassword(currentHash, currentPassword)
	if err != nil {
		return "", nil, fmt.Errorf("verify current owner password: %w", err)
	}
	if !ok {
		return "", nil, fmt.Errorf("current owner password is incorrect")
	}

	newHash, err = HashPassword(newPassword)
	if err != nil {
		return "", nil, fmt.Errorf("hash new owner password: %w", err)
	}

	oldKey := DeriveKeyFromOwnerPassword(currentPassword)
	newKey := DeriveKeyFromOwnerPassword(newPassword)

	rotated = make([]ServerNodePassword, len(peers))
	for i, p := range peers {
		reencrypted, err := RotatePeerPassword(oldKey, newKey, p.Encrypted)
		if err != nil {
			return "", nil, fmt.Errorf("rotate peer password for server %s: %w", p.NodeID, err)
		}
		rotated[i] = ServerNodePassword{NodeID: p.NodeID, Encrypted: reencrypted}
	}
	return newHash, rotated, nil
}

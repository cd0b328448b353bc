package op

import (
	"github.com/spaceway/spaceway/internal/ids"
	"github.com/spaceway/spaceway/internal/wire"
)

// Payload-bearing structs, one per OpType. Encode/decode with
// EncodePayload/DecodePayload into Record.Payload.

type CreateSpacePayload struct {
	Name        string     `cbor:"0,keyasint"`
	Description string     `cbor:"1,keyasint"`
	Visibility  Visibility `cbor:"2,keyasint"`
}

type UpdateSpaceVisibilityPayload struct {
	Visibility Visibility `cbor:"0,keyasint"`
}

type CreateChannelPayload struct {
	Name string `cbor:"0,keyasint"`
}

type CreateThreadPayload struct {
	Title string `cbor:"0,keyasint"`
}

type PostMessagePayload struct {
	// CipherText is the AEAD-sealed message body, encrypted under the
	// group key of Record.Epoch (§4.5 "Encryption of operations").
	CipherText []byte `cbor:"0,keyasint"`
	Nonce      []byte `cbor:"1,keyasint"`
}

type AddMemberPayload struct {
	Member ids.UserId `cbor:"0,keyasint"`
	Role   Role       `cbor:"1,keyasint"`
}

type RemoveMemberPayload struct {
	Member ids.UserId `cbor:"0,keyasint"`
}

type SetRolePayload struct {
	Member ids.UserId `cbor:"0,keyasint"`
	Role   Role       `cbor:"1,keyasint"`
}

type CreateInvitePayload struct {
	InviteCode [16]byte `cbor:"0,keyasint"`
	Role       Role     `cbor:"1,keyasint"`
}

type UseInvitePayload struct {
	InviteCode [16]byte `cbor:"0,keyasint"`
}

// KeyCommitPayload carries the opaque MLS-style commit message produced
// by the group-key engine (§4.5). The commit's own internal structure is
// owned by package groupkey; the operation layer only transports it.
type KeyCommitPayload struct {
	NewEpoch   ids.EpochId `cbor:"0,keyasint"`
	CommitBlob []byte      `cbor:"1,keyasint"`
}

// WelcomeRefPayload references a Welcome bundle delivered out-of-band
// (gossip `user/{UserId}/welcome` topic or DHT), rather than embedding
// it — Welcomes are sealed to one recipient and do not belong in the
// shared causal DAG payload that every member materializes.
type WelcomeRefPayload struct {
	NewMember    ids.UserId  `cbor:"0,keyasint"`
	WelcomeEpoch ids.EpochId `cbor:"1,keyasint"`
	WelcomeHash  ids.ID32    `cbor:"2,keyasint"`
}

// EncodePayload CBOR-encodes a concrete payload struct for storage in
// Record.Payload.
func EncodePayload(v interface{}) ([]byte, error) {
	return wire.Marshal(v)
}

// DecodeCreateSpace, DecodeUpdateSpaceVisibility, ... decode Record.Payload
// into the concrete type implied by Record.Type. Callers type-switch on
// Record.Type first (the closed sum type dispatch §9 calls for).

func DecodeCreateSpace(b []byte) (CreateSpacePayload, error) {
	var p CreateSpacePayload
	err := wire.Unmarshal(b, &p)
	return p, err
}

func DecodeUpdateSpaceVisibility(b []byte) (UpdateSpaceVisibilityPayload, error) {
	var p UpdateSpaceVisibilityPayload
	err := wire.Unmarshal(b, &p)
	return p, err
}

func DecodeCreateChannel(b []byte) (CreateChannelPayload, error) {
	var p CreateChannelPayload
	err := wire.Unmarshal(b, &p)
	return p, err
}

func DecodeCreateThread(b []byte) (CreateThreadPayload, error) {
	var p CreateThreadPayload
	err := wire.Unmarshal(b, &p)
	return p, err
}

func DecodePostMessage(b []byte) (PostMessagePayload, error) {
	var p PostMessagePayload
	err := wire.Unmarshal(b, &p)
	return p, err
}

func DecodeAddMember(b []byte) (AddMemberPayload, error) {
	var p AddMemberPayload
	err := wire.Unmarshal(b, &p)
	return p, err
}

func DecodeRemoveMember(b []byte) (RemoveMemberPayload, error) {
	var p RemoveMemberPayload
	err := wire.Unmarshal(b, &p)
	return p, err
}

func DecodeSetRole(b []byte) (SetRolePayload, error) {
	var p SetRolePayload
	err := wire.Unmarshal(b, &p)
	return p, err
}

func DecodeCreateInvite(b []byte) (CreateInvitePayload, error) {
	var p CreateInvitePayload
	err := wire.Unmarshal(b, &p)
	return p, err
}

func DecodeUseInvite(b []byte) (UseInvitePayload, error) {
	var p UseInvitePayload
	err := wire.Unmarshal(b, &p)
	return p, err
}

func DecodeKeyCommit(b []byte) (KeyCommitPayload, error) {
	var p KeyCommitPayload
	err := wire.Unmarshal(b, &p)
	return p, err
}

func DecodeWelcomeRef(b []byte) (WelcomeRefPayload, error) {
	var p WelcomeRefPayload
	err := wire.Unmarshal(b, &p)
	return p, err
}

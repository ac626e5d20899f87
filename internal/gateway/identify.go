package gateway

import (
	"golang.org/x/xerrors"

	"github.com/kettlecord/shardctl/structs/discord"
)

// Identify sends opcode 2, establishing a fresh session. Shard is only
// included when the Session was constructed with sharding parameters.
func (s *Session) Identify() error {
	payload := discord.Identify{
		Token: s.identity.Token,
		Properties: &discord.IdentifyProperties{
			OS:      s.identity.Properties.OS,
			Browser: s.identity.Properties.Browser,
			Device:  s.identity.Properties.Device,
		},
		Compress:       s.identity.Compress,
		LargeThreshold: s.identity.LargeThreshold,
		Intents:        s.identity.Intents,
	}

	if s.identity.Shard != nil {
		shard := *s.identity.Shard
		payload.Shard = &shard
	}

	if err := s.writeJSON(discord.GatewayOpIdentify, payload); err != nil {
		return xerrors.Errorf("gateway identify: %w", err)
	}

	return nil
}

// Resume sends opcode 6, asking to continue the session named by
// sessionID from the last acknowledged sequence number.
func (s *Session) Resume() error {
	payload := discord.Resume{
		Token:     s.identity.Token,
		SessionID: s.SessionID(),
		Sequence:  s.Sequence(),
	}

	if err := s.writeJSON(discord.GatewayOpResume, payload); err != nil {
		return xerrors.Errorf("gateway resume: %w", err)
	}

	return nil
}

// SendEvent writes an arbitrary opcode/payload pair, for client-initiated
// frames such as RequestGuildMembers or UpdateStatus.
func (s *Session) SendEvent(op discord.GatewayOp, data interface{}) error {
	if err := s.writeJSON(op, data); err != nil {
		return xerrors.Errorf("gateway send event: %w", err)
	}

	return nil
}

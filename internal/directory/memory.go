package directory

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Directory. It keeps one ordered invite list per
// guild and is used by tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	guilds  map[string][]InviteCount
	channel map[string]string // channel id -> guild id
	fail    map[string]error  // op -> error for the next call
	seq     int
}

func NewMemory() *Memory {
	return &Memory{
		guilds:  make(map[string][]InviteCount),
		channel: make(map[string]string),
		fail:    make(map[string]error),
	}
}

// Set replaces the invite list of a guild.
func (m *Memory) Set(guildID string, invites ...InviteCount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guilds[guildID] = append([]InviteCount(nil), invites...)
	for _, inv := range invites {
		if inv.ChannelID != "" {
			m.channel[inv.ChannelID] = guildID
		}
	}
}

// AddChannel makes CreateInvite accept channelID for guildID.
func (m *Memory) AddChannel(guildID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channel[channelID] = guildID
}

// Use bumps the counter of code as a join through it would.
func (m *Memory) Use(guildID, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.guilds[guildID]
	for i := range list {
		if list[i].Code == code {
			list[i].Uses++
			return
		}
	}
}

// FailNext makes the next call of op ("list", "create", "delete") return err.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = err
}

func (m *Memory) takeFailure(op string) error {
	err := m.fail[op]
	delete(m.fail, op)
	return err
}

func (m *Memory) ListInvites(ctx context.Context, guildID string) ([]InviteCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list_invites: %w: %w", ErrUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("list"); err != nil {
		return nil, err
	}
	return append([]InviteCount(nil), m.guilds[guildID]...), nil
}

func (m *Memory) CreateInvite(ctx context.Context, guildID, channelID string, opts CreateOptions) (*CreatedInvite, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("create_invite: %w: %w", ErrUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("create"); err != nil {
		return nil, err
	}
	if owner, ok := m.channel[channelID]; ok && owner != guildID {
		return nil, fmt.Errorf("create_invite: %w", ErrForbidden)
	}

	m.seq++
	code := fmt.Sprintf("mem%04d", m.seq)
	m.guilds[guildID] = append(m.guilds[guildID], InviteCount{Code: code, ChannelID: channelID})
	return &CreatedInvite{Code: code, ChannelID: channelID, MaxUses: opts.MaxUses, MaxAge: opts.MaxAgeSeconds}, nil
}

func (m *Memory) DeleteInvite(ctx context.Context, code, reason string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete_invite: %w: %w", ErrUnavailable, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("delete"); err != nil {
		return err
	}
	for guildID, list := range m.guilds {
		for i := range list {
			if list[i].Code == code {
				m.guilds[guildID] = append(list[:i:i], list[i+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("delete_invite: %w", ErrUnknownInvite)
}

// Codes lists the codes of a guild in directory order.
func (m *Memory) Codes(guildID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]string, 0, len(m.guilds[guildID]))
	for _, inv := range m.guilds[guildID] {
		codes = append(codes, inv.Code)
	}
	return codes
}

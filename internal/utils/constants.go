package utils

const (
	// Emojis
	EmojiTick   = "✅"
	EmojiCross  = "❌"
	EmojiInfo   = "ℹ️"
	EmojiStats  = "📊"
	EmojiTrophy = "🏆"
	EmojiUsers  = "👥"
	EmojiInvite = "📋"

	// Colors
	ColorDark   = 0x2f3136
	ColorGreen  = 0x00FF00
	ColorRed    = 0xFF0000
	ColorBlue   = 0x0099FF
	ColorGold   = 0xFFD700
	ColorCoral  = 0xFF6B6B
	ColorTeal   = 0x4ECDC4
	ColorYellow = 0xFEE75C

	// Listing limits keep embeds under Discord's field size.
	MaxListedInvites  = 10
	MaxListedUsers    = 20
	MaxListedCreators = 10
	MaxRecentInvites  = 5
)

package bot

// Discord message and command constants
const (
	CommandPrefix              = "!"
	MaxDiscordMessageLength    = 2000
	MaxHistoryFetch            = 100
	DefaultHistoryMessageCount = 10
	DefaultWhoWonMessageCount  = 100
	ChatHistoryMessageCount    = 15
)

const helpText = "**Commands**\n" +
	"`!ping` check that I'm awake\n" +
	"`!ask <question>` ask me anything\n" +
	"`!opinion [n]` my take on the last n messages\n" +
	"`!who_won [n]` judge the last n messages of arguing\n" +
	"`!image_opinion [url] [prompt]` react to an attached, linked or replied-to image\n" +
	"`!keys` credential pool status\n" +
	"`!revalidate` re-check every configured key\n" +
	"Or just mention me, or DM me."

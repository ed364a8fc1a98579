// ABOUTME: Definition of the !sonar chat command
// ABOUTME: Shared by the responder gate and the query extractor

package bot

import "strings"

// Command describes a chat command the bot recognizes. The gate and the
// query extractor both consult the same definition, so a `!sonar ...`
// message and a name-mention message flow through one code path.
type Command struct {
	Name  string
	Token string
	Help  string
}

// SonarCommand is the single command surface of the bot.
var SonarCommand = Command{
	Name:  "sonar",
	Token: "!sonar",
	Help:  "Search with Perplexity Sonar AI",
}

// Matches reports whether the message body invokes this command.
func (c Command) Matches(body string) bool {
	return strings.HasPrefix(body, c.Token)
}

// Strip removes the command token and surrounding whitespace, leaving the
// raw argument string.
func (c Command) Strip(body string) string {
	return strings.TrimSpace(strings.TrimPrefix(body, c.Token))
}

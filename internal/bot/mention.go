// ABOUTME: Tokenizing name-mention matcher for the responder gate
// ABOUTME: Detects standalone bot-name tokens and strips them from query text

package bot

import "strings"

// mentionBoundary is the set of characters allowed to trail the bot name
// inside a single token, e.g. "fxivity:" or "fxivity!".
const mentionBoundary = ":,.!?"

// splitMention splits a whitespace-delimited token into the mention and
// whatever trails the boundary character. A token is a mention when, after
// removing one optional leading @, it begins with the name
// (case-insensitive) and the remainder is empty or starts with a boundary
// character. "fxivityish" is not a mention of "fxivity"; "fxivity:hello"
// is, with "hello" left over.
func splitMention(token, name string) (rest string, ok bool) {
	token = strings.TrimPrefix(token, "@")
	if len(token) < len(name) {
		return "", false
	}
	if !strings.EqualFold(token[:len(name)], name) {
		return "", false
	}
	rest = token[len(name):]
	if rest == "" {
		return "", true
	}
	if !strings.ContainsRune(mentionBoundary, rune(rest[0])) {
		return "", false
	}
	return rest[1:], true
}

// matchesMention reports whether a single token addresses the bot.
func matchesMention(token, name string) bool {
	_, ok := splitMention(token, name)
	return ok
}

// mentionsName reports whether the body contains the bot name as a
// standalone token.
func mentionsName(body, name string) bool {
	for _, token := range strings.Fields(body) {
		if matchesMention(token, name) {
			return true
		}
	}
	return false
}

// stripMentions removes every mention of the bot and rejoins the rest
// with single spaces. "fxivity: capital of France" becomes
// "capital of France". Text fused to a mention, as in "fxivity:hello",
// survives the strip.
func stripMentions(body, name string) string {
	var kept []string
	for _, token := range strings.Fields(body) {
		rest, ok := splitMention(token, name)
		if !ok {
			kept = append(kept, token)
			continue
		}
		if rest != "" {
			kept = append(kept, rest)
		}
	}
	return strings.Join(kept, " ")
}

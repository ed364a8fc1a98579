// Package bot implements the sonar-matrix responder: the gate that
// decides which inbound messages deserve an answer and the pipeline that
// produces one.
//
// # Responder Gate
//
// Gate.ShouldRespond evaluates rules in order; the first hit wins:
//
//  1. Reject messages from the bot itself, bodies starting with a command
//     prefix other than !sonar, and non-text message types.
//  2. Direct address: the bot name appears as a standalone token
//     (optionally @-prefixed, optionally trailed by punctuation), or the
//     body starts with !sonar. The sender must pass the allow list.
//  3. Direct-message heuristic: the room has exactly two joined members.
//     A failed member lookup falls through to the next rule.
//  4. Reply-chain continuation: the message replies to an event that was
//     sent by the bot and carries the continuation marker
//     (org.example.perplexity). Fetch or decrypt failures log a warning
//     and count as no match.
//
// The gate performs no writes; its room lookups go through small
// point-of-use interfaces so tests can substitute mocks.
//
// # Answer Pipeline
//
// Each gated message is answered on its own goroutine: mark read, show
// the composing indicator, extract the query (command token or name
// mentions stripped), call the completion API once with a bounded wait,
// render the answer as markdown, and send it as a notice reply tagged
// with the continuation marker. Provider rejections become an
// "Error: API returned status N" answer on the same path; transport and
// unexpected failures become a plain "Something went wrong" notice. The
// composing indicator is cleared via defer on every exit path.
package bot

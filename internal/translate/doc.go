// Package translate converts between typed local property values and the
// numeric wire fields the 163 cloud expects.
//
// A single ordered rule table drives both directions so the outbound and
// inbound mappings cannot diverge. Values that cannot be converted are
// dropped, never errored: a malformed field in a report or command must not
// take down the rest of the message.
package translate

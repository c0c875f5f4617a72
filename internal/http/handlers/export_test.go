package handlers

// Aliases exposing internals to the external handlers_test package, which
// must live outside package handlers to avoid an import cycle with httpapi.
type (
	ItemResponse        = itemResponse
	LedgerEntryResponse = ledgerEntryResponse
	RunResponse         = runResponse
)

var Messages = messages

const MsgCancelled = msgCancelled

package relay

// Reply codes the relay is expected to answer with at each protocol step.
const (
	codeServiceReady   = 220
	codeConnClosed     = 221
	codeOK             = 250
	codeStartMailInput = 354
)

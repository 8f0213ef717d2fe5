package messaging

// Topic constants for blockmine events
const (
	// TopicBlocksMined carries one BlockMinedMessage per mined block, keyed
	// by block hash.
	TopicBlocksMined = "chain.blocks_mined"
)

// Message headers
const (
	HeaderFormat  = "format"
	HeaderService = "service"
)

package nodes

// Graph node keys.
const (
	NodeInputConverter = "InputConverter"
	NodeChatModel      = "ChatModel"
)

// UsageCostKey and UsageCostTotalKey are the schema.Message.Extra keys set
// by the chat model post-handler.
const (
	UsageCostKey      = "usage_cost"
	UsageCostTotalKey = "usage_cost_total_usd"
)

package store

// Conversation is one chat thread. UID is the external identifier handed
// to API clients; ID is internal to the database.
type Conversation struct {
	UID       string
	Title     string
	CreatedTs int64
	UpdatedTs int64
	ID        int32
	UserID    int32
}

type FindConversation struct {
	ID     *int32
	UID    *string
	UserID *int32
}

type UpdateConversation struct {
	Title     *string
	UpdatedTs *int64
	ID        int32
}

type DeleteConversation struct {
	ID int32
}

// Turn is one completed exchange: the user message, the final reply, and
// the turn diagnostics serialized as JSON.
type Turn struct {
	UID            string
	UserMessage    string
	Reply          string
	Diagnostics    string
	CreatedTs      int64
	ID             int32
	ConversationID int32
	Rounds         int32
	Capped         bool
}

type FindTurn struct {
	ID             *int32
	UID            *string
	ConversationID *int32
	Limit          *int
}

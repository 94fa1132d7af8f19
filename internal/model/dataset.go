package model

// Doc is a retrievable document of a benchmark corpus.
type Doc struct {
	DocID string `json:"doc_id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Query is a benchmark query.
type Query struct {
	QueryID string `json:"query_id"`
	Text    string `json:"text"`
}

// Qrel is a ground-truth relevance judgment.
type Qrel struct {
	QueryID   string `json:"query_id"`
	DocID     string `json:"doc_id"`
	Relevance int    `json:"relevance"`
	Iteration string `json:"iteration"`
}

// Candidate is a ranked retrieval result for a query from one method.
type Candidate struct {
	QueryID string  `json:"query_id"`
	DocID   string  `json:"doc_id"`
	Rank    int     `json:"rank"`
	Source  string  `json:"source"`
	Score   float64 `json:"-"`
}

// JudgeSetRow is a document selected for judging, before slot assignment.
type JudgeSetRow struct {
	QueryID  string `json:"query_id"`
	DocID    string `json:"doc_id"`
	IsRel    bool   `json:"is_rel"`
	CandRank *int   `json:"cand_rank"`
}

// JudgeItem is one numbered slot shown to an external judge.
type JudgeItem struct {
	QueryID   string `json:"query_id"`
	QueryText string `json:"query_text"`
	NRel      int    `json:"n_rel"`
	Slot      int    `json:"slot"`
	DocID     string `json:"doc_id"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	IsRel     bool   `json:"is_rel"`
}

// Pick is a slot an external judge selected as relevant.
type Pick struct {
	QueryID string `json:"query_id"`
	Slot    int    `json:"slot"`
	DocID   string `json:"doc_id"`
	Model   string `json:"model"`
	PromptV string `json:"prompt_v"`
}

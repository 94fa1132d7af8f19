package model

// EvalRow is the per-query evaluation of a candidate source and a judge.
type EvalRow struct {
	QueryID  string `json:"query_id"`
	NRel     int    `json:"n_rel"`
	Source   string `json:"source"`
	K        int    `json:"k"`
	NCand    int    `json:"n_cand"`
	CandHits int    `json:"cand_hits"`

	PrecisionAtK float64 `json:"precision_at_k"`
	RecallAtK    float64 `json:"recall_at_k"`
	RR           float64 `json:"rr"`
	NDCGAtK      float64 `json:"ndcg_at_k"`

	Model       string   `json:"model"`
	PromptV     string   `json:"prompt_v"`
	Judged      bool     `json:"judged"`
	NPicked     int      `json:"n_picked"`
	JudgeHits   int      `json:"judge_hits"`
	JudgePrec   *float64 `json:"judge_precision"`
	JudgeRecall *float64 `json:"judge_recall"`
}

// EvalSummary is the single-row corpus-level evaluation summary.
type EvalSummary struct {
	Source         string   `json:"source"`
	K              int      `json:"k"`
	Model          string   `json:"model"`
	PromptV        string   `json:"prompt_v"`
	NQueries       int      `json:"n_queries"`
	NJudged        int      `json:"n_judged"`
	MeanPrecision  float64  `json:"mean_precision_at_k"`
	MeanRecall     float64  `json:"mean_recall_at_k"`
	MRR            float64  `json:"mrr"`
	MeanNDCG       float64  `json:"mean_ndcg_at_k"`
	JudgePrecision *float64 `json:"judge_precision"`
	JudgeRecall    *float64 `json:"judge_recall"`
}

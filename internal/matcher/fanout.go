package matcher

import (
	"context"
	"sync"

	"resume-match-go/internal/types"
)

// ScoreAll 对一份档案并发匹配多个岗位
// 各岗位之间互相独立，除只读输入外没有共享可变状态；
// concurrency 限制并发上限，避免压垮下游的解释/向量服务
func (e *Engine) ScoreAll(ctx context.Context, profile *types.ResumeProfile, reqs []*types.JobRequirement, concurrency int) ([]*types.MatchScore, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	type indexed struct {
		idx   int
		score *types.MatchScore
		err   error
	}

	sem := make(chan struct{}, concurrency)
	results := make(chan indexed, len(reqs))
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		go func(idx int, req *types.JobRequirement) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results <- indexed{idx: idx, err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			score, err := e.Score(ctx, profile, req)
			results <- indexed{idx: idx, score: score, err: err}
		}(i, req)
	}

	wg.Wait()
	close(results)

	// 单个岗位失败不拖垮整批，只跳过并记日志
	scores := make([]*types.MatchScore, 0, len(reqs))
	ordered := make([]*types.MatchScore, len(reqs))
	for r := range results {
		if r.err != nil {
			e.logger.Warn().Err(r.err).Str("job_id", reqs[r.idx].JobID).Msg("单个岗位匹配失败，跳过")
			continue
		}
		ordered[r.idx] = r.score
	}
	for _, s := range ordered {
		if s != nil {
			scores = append(scores, s)
		}
	}
	return scores, nil
}

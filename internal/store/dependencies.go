package store

import (
	"context"
	"fmt"

	"github.com/quantpulse/datafeed/internal/domain"
)

// Dependencies returns the edges the job depends on.
func (s *Store) Dependencies(ctx context.Context, jobID string) ([]domain.JobDependency, error) {
	var deps []domain.JobDependency
	err := s.db.SelectContext(ctx, &deps,
		`SELECT job_id, depends_on_job_id, condition FROM job_dependencies WHERE job_id = $1`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("get dependencies: %w", err)
	}
	return deps, nil
}

// Dependents returns the edges pointing at the job.
func (s *Store) Dependents(ctx context.Context, jobID string) ([]domain.JobDependency, error) {
	var deps []domain.JobDependency
	err := s.db.SelectContext(ctx, &deps,
		`SELECT job_id, depends_on_job_id, condition FROM job_dependencies WHERE depends_on_job_id = $1`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("get dependents: %w", err)
	}
	return deps, nil
}

// AddDependency inserts one edge after verifying it keeps the graph acyclic.
func (s *Store) AddDependency(ctx context.Context, dep domain.JobDependency) error {
	if err := s.checkDependencies(ctx, dep.JobID, []domain.JobDependency{dep}); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_dependencies (job_id, depends_on_job_id, condition) VALUES ($1, $2, $3)`,
		dep.JobID, dep.DependsOnJobID, string(dep.Condition),
	)
	if err != nil {
		return fmt.Errorf("add dependency: %w", err)
	}
	return nil
}

// checkDependencies rejects self-references and edges that would close a
// cycle, by reachability search from each depends_on target back to jobID
// over the stored graph plus the new edges.
func (s *Store) checkDependencies(ctx context.Context, jobID string, deps []domain.JobDependency) error {
	if len(deps) == 0 {
		return nil
	}

	edges, err := s.allEdges(ctx)
	if err != nil {
		return err
	}
	for _, dep := range deps {
		edges[dep.JobID] = append(edges[dep.JobID], dep.DependsOnJobID)
	}

	for _, dep := range deps {
		if dep.JobID != jobID {
			return fmt.Errorf("%w: dependency edge for foreign job %q", domain.ErrConstraintViolation, dep.JobID)
		}
		if dep.DependsOnJobID == jobID {
			return fmt.Errorf("%w: job %q cannot depend on itself", domain.ErrConstraintViolation, jobID)
		}
		if reaches(edges, dep.DependsOnJobID, jobID) {
			return fmt.Errorf("%w: dependency %q -> %q closes a cycle",
				domain.ErrConstraintViolation, jobID, dep.DependsOnJobID)
		}
	}
	return nil
}

func (s *Store) allEdges(ctx context.Context) (map[string][]string, error) {
	var rows []domain.JobDependency
	err := s.db.SelectContext(ctx, &rows,
		`SELECT job_id, depends_on_job_id, condition FROM job_dependencies`)
	if err != nil {
		return nil, fmt.Errorf("load dependency graph: %w", err)
	}
	edges := make(map[string][]string, len(rows))
	for _, row := range rows {
		edges[row.JobID] = append(edges[row.JobID], row.DependsOnJobID)
	}
	return edges, nil
}

// reaches reports whether target is reachable from start along depends-on
// edges.
func reaches(edges map[string][]string, start, target string) bool {
	if start == target {
		return true
	}
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range edges[node] {
			if next == target {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

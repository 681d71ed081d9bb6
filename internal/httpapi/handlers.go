package httpapi

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"PolicyWatch/internal/domain"
	"PolicyWatch/internal/usecase"
)

type startRunRequest struct {
	ExistingPolicyTitles *[]string `json:"existingPolicyTitles"`
}

// startRun opens a run and executes it in the background. When titles are
// omitted they come from the policy dataset.
func (s *Server) startRun(c *fiber.Ctx) error {
	var req startRunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fmt.Errorf("invalid request body: %w", domain.ErrInvalidInput)
		}
	}

	var titles []string
	if req.ExistingPolicyTitles != nil {
		titles = *req.ExistingPolicyTitles
	} else {
		loaded, err := s.pipeline.ExistingPolicyTitles(c.UserContext())
		if err != nil {
			return err
		}
		titles = loaded
	}

	run, err := s.pipeline.Open(c.UserContext())
	if err != nil {
		return err
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		final := s.pipeline.Execute(s.base, run, titles)
		s.logger.Info("background run finished", "run_id", final.ID, "stage", final.Stage)
	}()

	return c.Status(fiber.StatusAccepted).JSON(run)
}

func (s *Server) listRuns(c *fiber.Ctx) error {
	runs, err := s.pipeline.ListRuns(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(runs)
}

func (s *Server) latestRun(c *fiber.Ctx) error {
	run, err := s.pipeline.LatestRun(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(run)
}

func (s *Server) getRun(c *fiber.Ctx) error {
	run, err := s.pipeline.GetRun(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(run)
}

func (s *Server) approveRun(c *fiber.Ctx) error {
	var req usecase.ApproveInput
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("invalid request body: %w", domain.ErrInvalidInput)
	}

	approval, err := s.pipeline.Approve(c.UserContext(), c.Params("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"run":     approval.Run,
		"results": approval.Implementation.Results,
		"errors":  approval.Implementation.Errors,
	})
}

func (s *Server) rejectRun(c *fiber.Ctx) error {
	var req usecase.RejectInput
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("invalid request body: %w", domain.ErrInvalidInput)
	}

	run, err := s.pipeline.Reject(c.UserContext(), c.Params("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(run)
}

func (s *Server) listFindings(c *fiber.Ctx) error {
	findings, err := s.pipeline.Findings(c.UserContext(), c.Query("runId"))
	if err != nil {
		return err
	}
	return c.JSON(findings)
}

func (s *Server) listVerifications(c *fiber.Ctx) error {
	results, err := s.pipeline.Verifications(c.UserContext(), c.Query("runId"))
	if err != nil {
		return err
	}
	return c.JSON(results)
}

func (s *Server) listPolicies(c *fiber.Ctx) error {
	policies, err := s.pipeline.Policies(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(policies)
}

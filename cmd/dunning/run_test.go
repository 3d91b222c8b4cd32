package main

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dunning/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	errs map[string]error
	ran  []string
}

func (s *stubRunner) Run(_ context.Context, job string, req scheduler.RunRequest) (*scheduler.RunReport, error) {
	s.ran = append(s.ran, job)
	err := s.errs[job]
	if err != nil && !errors.Is(err, scheduler.ErrRunInProgress) {
		return nil, err
	}
	return &scheduler.RunReport{Job: job, DryRun: req.DryRun, SkippedByLock: err != nil}, err
}

func TestJobsFor(t *testing.T) {
	jobs, err := jobsFor("all")
	require.NoError(t, err)
	assert.Equal(t, []string{scheduler.JobInvoiceReminders, scheduler.JobOfferReminders}, jobs)

	jobs, err = jobsFor("Offers")
	require.NoError(t, err)
	assert.Equal(t, []string{scheduler.JobOfferReminders}, jobs)

	_, err = jobsFor("payroll")
	assert.ErrorIs(t, err, errInvalidFlag)
}

func TestRunOptionsRequest(t *testing.T) {
	req, err := (&runOptions{dryRun: true, company: "42", export: "out.XLSX"}).request()
	require.NoError(t, err)
	assert.True(t, req.DryRun)
	require.NotNil(t, req.OrgID)
	assert.Equal(t, snowflake.ID(42), *req.OrgID)

	_, err = (&runOptions{company: "acme"}).request()
	assert.ErrorIs(t, err, errInvalidFlag)

	_, err = (&runOptions{company: "-3"}).request()
	assert.ErrorIs(t, err, errInvalidFlag)

	_, err = (&runOptions{export: "report.csv"}).request()
	assert.ErrorIs(t, err, errInvalidFlag)
}

func TestExecuteJobsTreatsHeldLockAsSuccess(t *testing.T) {
	runner := &stubRunner{errs: map[string]error{scheduler.JobInvoiceReminders: scheduler.ErrRunInProgress}}

	reports, err := executeJobs(context.Background(), runner, []string{scheduler.JobInvoiceReminders, scheduler.JobOfferReminders}, scheduler.RunRequest{})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].SkippedByLock)
	assert.Equal(t, []string{scheduler.JobInvoiceReminders, scheduler.JobOfferReminders}, runner.ran)
}

func TestExecuteJobsJoinsInfrastructureErrors(t *testing.T) {
	dbDown := errors.New("connection refused")
	runner := &stubRunner{errs: map[string]error{scheduler.JobOfferReminders: dbDown}}

	reports, err := executeJobs(context.Background(), runner, []string{scheduler.JobInvoiceReminders, scheduler.JobOfferReminders}, scheduler.RunRequest{DryRun: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, dbDown)
	assert.Contains(t, err.Error(), scheduler.JobOfferReminders)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].DryRun)
}

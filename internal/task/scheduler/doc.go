// Package scheduler registers cron and interval schedules and turns each
// trigger into a task on the task engine. It only computes trigger times;
// execution, retries and overlap handling belong to internal/task/engine.
package scheduler

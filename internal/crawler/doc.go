// Package crawler defines the core types and collaborator interfaces shared by
// the scheduling, pooling, retry and orchestration subsystems of the article
// read-count monitor.
package crawler

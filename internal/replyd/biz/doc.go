// Package biz implements the business logic of the reply engine: signal
// analysis, knowledge retrieval, reply composition, active learning,
// knowledge graph building and batch embedding regeneration.
package biz

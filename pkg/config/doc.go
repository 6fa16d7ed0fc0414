package config

// Environment variable reference:
//
//	PERSONA                persistent identity name, mapped to a stable ci_id
//	ROLE                   human-readable role tag stored alongside the persona
//	LOG_LEVEL              ERROR | WARN | INFO | DEBUG
//	USE_VECTOR_SEARCH      opt-in semantic recall for breathing primitives
//	EMBEDDING_METHOD       HASH | TFIDF | EXTERNAL
//	SIMILARITY_THRESHOLD   float in [0,1]
//
// Every other tunable is read as KATRA_<SECTION>_<FIELD>, e.g.
// KATRA_CONSOLIDATION_HUB_THRESHOLD.

// Package http serves the administrative API of a running module graph.
//
//	GET    /modules                          all modules of the live pass
//	GET    /modules/{id}                     one module
//	POST   /modules/{id}/imports             add an import, then reinit
//	DELETE /modules/{id}/imports/{target}    remove an import, then reinit
//	POST   /reinit                           re-run the bootstrap pass
//	POST   /rollback                         drop pending graph changes
//	GET    /routes                           route prefixes per module
//	GET    /metrics                          Prometheus metrics
//	GET    /healthz                          liveness
//
// GET /modules filters with ?scope=Mod, ?external=true, ?q=user and
// ?view=summary; bad filter values answer 422.
//
// Mutations take ?reinit=false to stage a change without applying it; a
// later POST /reinit applies and commits every staged change.
//
// Failures are JSON {"message": "...", "kind": "..."}: collisions and
// circular dependencies answer 409, declaration problems 422 and unknown
// modules 404.
package http

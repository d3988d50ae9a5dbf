package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/CleanExpo/RestoreAssist-sub015/internal/log"
	"github.com/CleanExpo/RestoreAssist-sub015/pkg/service"
)

// StartServer exposes the external trigger surface that drives engine
// progress: each tick request performs one claim-and-run round for a
// workflow. The engine itself stays synchronous and pool-free.
func StartServer(port string, svc *service.WorkflowService, exec *service.Executor) error {
	log.GetLogger().Infof("Starting agent workflow server on :%s", port)
	return http.ListenAndServe(":"+port, NewMux(svc, exec))
}

// NewMux builds the engine's route table.
func NewMux(svc *service.WorkflowService, exec *service.Executor) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /workflows", listWorkflowsHandler(svc))
	mux.HandleFunc("GET /workflows/{id}", statusHandler(svc))
	mux.HandleFunc("POST /workflows/{id}/tick", tickHandler(svc, exec))
	mux.HandleFunc("POST /workflows/{id}/cancel", cancelHandler(svc))
	mux.HandleFunc("POST /workflows/{id}/resume", resumeHandler(svc))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Agent workflow server is running")
}

func workflowID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid workflow id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func listWorkflowsHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflows, err := svc.ListWorkflows()
		if err != nil {
			log.GetLogger().Errorf("Failed to list workflows: %v", err)
			http.Error(w, fmt.Sprintf("Failed to list workflows: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, workflows)
	}
}

func statusHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}
		summary, err := svc.GetWorkflowStatus(id)
		if err != nil {
			log.GetLogger().Errorf("Failed to get workflow %d status: %v", id, err)
			http.Error(w, fmt.Sprintf("Failed to get workflow status: %v", err), http.StatusNotFound)
			return
		}
		writeJSON(w, summary)
	}
}

func tickHandler(svc *service.WorkflowService, exec *service.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}
		res, err := svc.RunTick(r.Context(), id, exec)
		if err != nil {
			log.GetLogger().Errorf("Failed to tick workflow %d: %v", id, err)
			http.Error(w, fmt.Sprintf("Failed to tick workflow: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, res)
	}
}

func cancelHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}
		if err := svc.CancelWorkflow(id); err != nil {
			log.GetLogger().Errorf("Failed to cancel workflow %d: %v", id, err)
			http.Error(w, fmt.Sprintf("Failed to cancel workflow: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{"workflow_id": id, "status": "CANCELLED"})
	}
}

func resumeHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}
		requeued, err := svc.ResumeWorkflow(id)
		if err != nil {
			log.GetLogger().Errorf("Failed to resume workflow %d: %v", id, err)
			http.Error(w, fmt.Sprintf("Failed to resume workflow: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{"workflow_id": id, "requeued": requeued})
	}
}

package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/weblisite/synthralos-engine/pkg/expression"
	"github.com/weblisite/synthralos-engine/pkg/models"
)

// Edge resolution states. An edge is satisfied when its source completed and
// chose it; skipped when its source was skipped or chose another branch.
const (
	edgePending = iota
	edgeSatisfied
	edgeSkipped
)

// scheduler advances one execution over its pinned workflow graph. It owns
// only pure state transitions; dispatching runners, persistence and parking
// belong to the engine.
type scheduler struct {
	wf   *models.Workflow
	exec *models.Execution
	eval *expression.Evaluator

	// pending timeline events produced by transitions, drained by the
	// engine into the next persisted transition.
	pending []*models.TimelineEvent
}

func newScheduler(wf *models.Workflow, exec *models.Execution, eval *expression.Evaluator) *scheduler {
	return &scheduler{wf: wf, exec: exec, eval: eval}
}

func (s *scheduler) record(eventType models.TimelineEventType, nodeID, message string, metadata map[string]any) {
	s.pending = append(s.pending, &models.TimelineEvent{
		ID:          uuid.New().String(),
		ExecutionID: s.exec.ID,
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		NodeID:      nodeID,
		Message:     message,
		Metadata:    metadata,
	})
}

func (s *scheduler) drainEvents() []*models.TimelineEvent {
	events := s.pending
	s.pending = nil

	return events
}

// gatesEdges reports whether the node selects its outgoing edges explicitly
// instead of satisfying all of them on completion.
func (s *scheduler) gatesEdges(node *models.WorkflowNode) bool {
	if node == nil {
		return false
	}

	if models.IsBranchNode(node.Type) || models.IsLoopNode(node.Type) {
		return true
	}

	switch node.Type {
	case models.NodeTypeTry, models.NodeTypeHumanApproval:
		return true
	}

	return false
}

func (s *scheduler) edgeState(e *models.Edge) int {
	if s.exec.Skipped[e.From] {
		return edgeSkipped
	}

	if !s.exec.Done[e.From] {
		return edgePending
	}

	if s.gatesEdges(s.wf.NodeByID(e.From)) {
		if s.exec.EnabledEdges[models.EdgeKey(e)] {
			return edgeSatisfied
		}

		// A loop or try decides its done/finally edges only when its frame
		// closes; until then the edge is undecided, not skipped.
		if s.frameOpen(e.From) {
			return edgePending
		}

		return edgeSkipped
	}

	return edgeSatisfied
}

// frameOpen reports whether the node still has an active loop or try frame.
func (s *scheduler) frameOpen(nodeID string) bool {
	for i := range s.exec.LoopFrames {
		if s.exec.LoopFrames[i].LoopNodeID == nodeID {
			return true
		}
	}

	for i := range s.exec.TryFrames {
		if s.exec.TryFrames[i].TryNodeID == nodeID {
			return true
		}
	}

	return false
}

func (s *scheduler) enableEdges(nodeID, label string) int {
	enabled := 0

	for _, e := range s.wf.Outgoing(nodeID) {
		if e.Label == label {
			s.exec.EnabledEdges[models.EdgeKey(e)] = true
			enabled++
		}
	}

	return enabled
}

// Ready returns the dispatchable frontier in graph definition order. A node
// is ready when every incoming edge is resolved and at least one is
// satisfied. Nodes whose inputs all resolved unsatisfied are marked skipped,
// cascading until a merge absorbs the dead branch.
func (s *scheduler) Ready() []*models.WorkflowNode {
	var ready []*models.WorkflowNode

	for changed := true; changed; {
		changed = false
		ready = ready[:0]

		for _, node := range s.wf.Nodes {
			if s.exec.Done[node.ID] || s.exec.Skipped[node.ID] || !node.Enabled {
				continue
			}

			incoming := s.wf.Incoming(node.ID)
			if len(incoming) == 0 {
				if node.ID == s.wf.EntryNodeID {
					ready = append(ready, node)
				}

				continue
			}

			satisfied, resolved := 0, 0

			for _, e := range incoming {
				switch s.edgeState(e) {
				case edgeSatisfied:
					satisfied++
					resolved++
				case edgeSkipped:
					resolved++
				}
			}

			if resolved < len(incoming) {
				continue
			}

			if satisfied == 0 {
				s.exec.Skipped[node.ID] = true
				s.record(models.TimelineNodeSkipped, node.ID, "all inputs skipped", nil)

				changed = true

				continue
			}

			ready = append(ready, node)
		}
	}

	return ready
}

// nodeInput resolves the input payload for a node: the caught failure for an
// active catch node, otherwise the merged outputs of its satisfied inputs.
func (s *scheduler) nodeInput(nodeID string) map[string]any {
	if local, ok := s.exec.Variables.NodeLocal[nodeID]; ok {
		if caught, ok := local["error"]; ok {
			return map[string]any{"error": caught}
		}
	}

	input := make(map[string]any)

	for _, e := range s.wf.Incoming(nodeID) {
		if s.edgeState(e) != edgeSatisfied {
			continue
		}

		if result, ok := s.exec.NodeResults[e.From]; ok {
			for k, v := range result.Output {
				input[k] = v
			}
		}
	}

	return input
}

// env builds the expression environment: variable scopes, trigger data, the
// node's input and prior outputs.
func (s *scheduler) env(input map[string]any) map[string]any {
	outputs := make(map[string]any, len(s.exec.NodeResults))
	for id, result := range s.exec.NodeResults {
		outputs[id] = result.Output
	}

	vars := s.exec.ScopedVariables()

	return map[string]any{
		"variables":    vars,
		"vars":         vars,
		"trigger_data": s.exec.TriggerData,
		"input":        input,
		"results":      outputs,
		"node_results": outputs,
	}
}

// runBranch evaluates a branch node and enables exactly one labeled edge.
func (s *scheduler) runBranch(node *models.WorkflowNode) error {
	input := s.nodeInput(node.ID)

	var label string

	switch node.Type {
	case models.NodeTypeCondition:
		expr, _ := node.Config["expression"].(string)
		if expr == "" {
			expr, _ = node.Config["condition"].(string)
		}

		if expr == "" {
			return models.NewValidationFailure(node.ID, "condition node requires an expression")
		}

		result, err := s.eval.EvaluateBool(expr, s.env(input))
		if err != nil {
			return models.NewValidationFailure(node.ID, fmt.Sprintf("condition evaluation failed: %v", err))
		}

		label = models.EdgeLabelFalse
		if result {
			label = models.EdgeLabelTrue
		}

		// A condition without a branch for the losing side acts as a plain
		// if: the missing side simply has nothing to run.
		s.enableEdges(node.ID, label)
		s.markDone(node.ID, map[string]any{"selected": label})

		return nil

	default: // switch, rag_switch, ocr_switch
		value, err := s.branchValue(node, input)
		if err != nil {
			return err
		}

		label = fmt.Sprintf("%v", value)
	}

	if s.enableEdges(node.ID, label) == 0 {
		// No edge for the selected case; fall through to default. A switch
		// with neither is a graph defect, not an empty success.
		if label == models.EdgeLabelDefault || s.enableEdges(node.ID, models.EdgeLabelDefault) == 0 {
			return models.NewValidationFailure(node.ID,
				fmt.Sprintf("switch selected %q but no matching or default edge exists", label))
		}
	}

	s.markDone(node.ID, map[string]any{"selected": label})

	return nil
}

func (s *scheduler) branchValue(node *models.WorkflowNode, input map[string]any) (any, error) {
	if expr, ok := node.Config["expression"].(string); ok && expr != "" {
		value, err := s.eval.Evaluate(expr, s.env(input))
		if err != nil {
			return nil, models.NewValidationFailure(node.ID, fmt.Sprintf("switch evaluation failed: %v", err))
		}

		return value, nil
	}

	// Classification switches route on the label computed upstream.
	if label, ok := input["label"]; ok {
		return label, nil
	}

	return nil, models.NewValidationFailure(node.ID, "switch node requires an expression or a label input")
}

// runLoop executes a loop node for the first time: it resolves the iteration
// source, pushes a frame and opens the body, or goes straight to the done
// edge when there is nothing to iterate.
func (s *scheduler) runLoop(node *models.WorkflowNode) error {
	body := s.regionNodes(node.ID, models.EdgeLabelBody)
	if len(body) == 0 {
		return models.NewValidationFailure(node.ID, "loop node has no body edge")
	}

	frame := models.LoopFrame{
		LoopNodeID: node.ID,
		Vars:       make(map[string]any),
		BodyNodes:  body,
	}

	switch node.Type {
	case models.NodeTypeLoop, models.NodeTypeFor:
		items, err := s.loopItems(node)
		if err != nil {
			return err
		}

		if len(items) == 0 {
			s.finishLoopNode(node.ID)

			return nil
		}

		frame.Items = items

		frame.Variable, _ = node.Config["variable"].(string)
		if frame.Variable == "" {
			frame.Variable = "item"
		}

	case models.NodeTypeWhile:
		proceed, err := s.loopCondition(node)
		if err != nil {
			return err
		}

		if !proceed {
			s.finishLoopNode(node.ID)

			return nil
		}

	case models.NodeTypeRepeat:
		count := configInt(node.Config, "count", 0)
		if count <= 0 {
			s.finishLoopNode(node.ID)

			return nil
		}
	}

	s.exec.LoopFrames = append(s.exec.LoopFrames, frame)
	s.markDone(node.ID, map[string]any{"iteration": 0})
	s.enableEdges(node.ID, models.EdgeLabelBody)

	return nil
}

func (s *scheduler) loopItems(node *models.WorkflowNode) ([]any, error) {
	raw, ok := node.Config["items"]
	if !ok {
		return nil, models.NewValidationFailure(node.ID, "loop node requires items")
	}

	if expr, ok := raw.(string); ok {
		items, err := s.eval.EvaluateList(expr, s.env(s.nodeInput(node.ID)))
		if err != nil {
			return nil, models.NewValidationFailure(node.ID, fmt.Sprintf("loop items evaluation failed: %v", err))
		}

		return items, nil
	}

	if items, ok := raw.([]any); ok {
		return items, nil
	}

	return nil, models.NewValidationFailure(node.ID, "loop items must be a list or an expression")
}

func (s *scheduler) loopCondition(node *models.WorkflowNode) (bool, error) {
	expr, _ := node.Config["condition"].(string)
	if expr == "" {
		return false, models.NewValidationFailure(node.ID, "while node requires a condition")
	}

	proceed, err := s.eval.EvaluateBool(expr, s.env(nil))
	if err != nil {
		return false, models.NewValidationFailure(node.ID, fmt.Sprintf("while condition evaluation failed: %v", err))
	}

	return proceed, nil
}

// finishLoopNode completes a loop without entering its body.
func (s *scheduler) finishLoopNode(nodeID string) {
	s.markDone(nodeID, map[string]any{"iteration": 0})
	s.enableEdges(nodeID, models.EdgeLabelDone)
}

// runTry opens a try region: pushes a frame and enables the body edges.
func (s *scheduler) runTry(node *models.WorkflowNode) error {
	body := s.regionNodes(node.ID, models.EdgeLabelBody)
	if len(body) == 0 {
		return models.NewValidationFailure(node.ID, "try node has no body edge")
	}

	s.exec.TryFrames = append(s.exec.TryFrames, models.TryFrame{
		TryNodeID:  node.ID,
		BodyNodes:  body,
		CatchNodes: s.catchTargets(node.ID),
	})

	s.markDone(node.ID, nil)
	s.enableEdges(node.ID, models.EdgeLabelBody)

	return nil
}

func (s *scheduler) catchTargets(tryNodeID string) []string {
	var targets []string

	for _, e := range s.wf.Outgoing(tryNodeID) {
		if e.Label == models.EdgeLabelCatch {
			targets = append(targets, e.To)
		}
	}

	return targets
}

// regionNodes computes the nodes reachable from a construct's labeled edges
// without re-entering the construct node or crossing into its other regions.
func (s *scheduler) regionNodes(nodeID, label string) []string {
	exclude := map[string]bool{nodeID: true}

	for _, e := range s.wf.Outgoing(nodeID) {
		if e.Label != label {
			exclude[e.To] = true
		}
	}

	var frontier []string

	for _, e := range s.wf.Outgoing(nodeID) {
		if e.Label == label {
			frontier = append(frontier, e.To)
		}
	}

	seen := make(map[string]bool)

	var region []string

	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]

		if seen[id] || exclude[id] {
			continue
		}

		seen[id] = true
		region = append(region, id)

		for _, e := range s.wf.Outgoing(id) {
			frontier = append(frontier, e.To)
		}
	}

	return region
}

// markDone records a node as completed with the given output.
func (s *scheduler) markDone(nodeID string, output map[string]any) {
	s.exec.MarkCompleted(nodeID, models.NodeResult{
		NodeID:       nodeID,
		Status:       models.NodeRunCompleted,
		Output:       output,
		AttemptCount: 1,
	})
}

// skipPending marks every unresolved node in the region as skipped.
func (s *scheduler) skipPending(region []string) {
	for _, id := range region {
		if !s.exec.Done[id] && !s.exec.Skipped[id] {
			s.exec.Skipped[id] = true
		}
	}
}

// clearRegion resets the scheduling state of a loop body for re-entry. The
// completion history in CompletedNodeIDs is append-only and stays.
func (s *scheduler) clearRegion(region []string) {
	for _, id := range region {
		delete(s.exec.Done, id)
		delete(s.exec.Skipped, id)
		delete(s.exec.NodeResults, id)
		delete(s.exec.Variables.NodeLocal, id)

		for _, e := range s.wf.Outgoing(id) {
			delete(s.exec.EnabledEdges, models.EdgeKey(e))
		}
	}
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}

	return false
}

func regionResolved(exec *models.Execution, region []string) bool {
	for _, id := range region {
		if !exec.Done[id] && !exec.Skipped[id] {
			return false
		}
	}

	return true
}

// RouteFailure routes a final node failure into the innermost enclosing try
// region. It returns false when no try region catches it and the execution
// must fail.
func (s *scheduler) RouteFailure(nodeID string, failure *models.Failure) bool {
	// Failed node resolves as skipped so its own downstream never runs.
	s.exec.Skipped[nodeID] = true

	for i := len(s.exec.TryFrames) - 1; i >= 0; i-- {
		frame := &s.exec.TryFrames[i]
		if frame.ActiveCatch != "" || !contains(frame.BodyNodes, nodeID) {
			continue
		}

		s.skipPending(frame.BodyNodes)

		catchNode := s.selectCatch(frame, failure)
		if catchNode == "" {
			frame.PendingError = failure.Error()

			return true
		}

		frame.ActiveCatch = catchNode
		frame.CatchNodesIn = s.regionNodes(frame.TryNodeID, models.EdgeLabelCatch)

		// The catch decision is final: enable the chosen handler's edge and
		// resolve the other handlers as skipped so the region can close.
		for _, e := range s.wf.Outgoing(frame.TryNodeID) {
			if e.Label != models.EdgeLabelCatch {
				continue
			}

			if e.To == catchNode {
				s.exec.EnabledEdges[models.EdgeKey(e)] = true
			} else {
				s.exec.Skipped[e.To] = true
			}
		}

		if s.exec.Variables.NodeLocal == nil {
			s.exec.Variables.NodeLocal = make(map[string]map[string]any)
		}

		s.exec.Variables.NodeLocal[catchNode] = map[string]any{
			"error": map[string]any{
				"message": failure.Message,
				"kind":    string(failure.Kind),
				"node_id": failure.NodeID,
			},
		}

		return true
	}

	return false
}

// selectCatch picks the catch node matching the failure kind. A catch node
// without an error_type config catches everything.
func (s *scheduler) selectCatch(frame *models.TryFrame, failure *models.Failure) string {
	var fallback string

	for _, id := range frame.CatchNodes {
		node := s.wf.NodeByID(id)
		if node == nil {
			continue
		}

		errorType, _ := node.Config["error_type"].(string)
		if errorType == "" || errorType == "any" {
			if fallback == "" {
				fallback = id
			}

			continue
		}

		if errorType == string(failure.Kind) {
			return id
		}
	}

	return fallback
}

// AdvanceControl makes progress when the ready frontier is empty: it closes
// finished try regions and advances or finishes loop iterations. It returns
// true when it changed state.
func (s *scheduler) AdvanceControl() (bool, *models.Failure) {
	tryFrame := s.exec.InnermostTry()
	loopFrame := s.exec.InnermostLoop()

	// When a try nests inside a loop body, the try must close first.
	if tryFrame != nil && (loopFrame == nil || contains(loopFrame.BodyNodes, tryFrame.TryNodeID) || !contains(tryFrame.BodyNodes, loopFrame.LoopNodeID)) {
		if progressed, failure := s.advanceTry(tryFrame); progressed || failure != nil {
			return progressed, failure
		}
	}

	if loopFrame != nil {
		if progressed, failure := s.advanceLoop(loopFrame); progressed || failure != nil {
			return progressed, failure
		}
	}

	if tryFrame != nil && loopFrame != nil {
		if progressed, failure := s.advanceTry(tryFrame); progressed || failure != nil {
			return progressed, failure
		}
	}

	return false, nil
}

func (s *scheduler) advanceTry(frame *models.TryFrame) (bool, *models.Failure) {
	if !regionResolved(s.exec, frame.BodyNodes) {
		return false, nil
	}

	if frame.ActiveCatch != "" && !regionResolved(s.exec, frame.CatchNodesIn) {
		return false, nil
	}

	if !frame.FinallyRun {
		if s.enableEdges(frame.TryNodeID, models.EdgeLabelFinally) > 0 {
			frame.FinallyRun = true

			return true, nil
		}

		frame.FinallyRun = true
	}

	if !regionResolved(s.exec, s.regionNodes(frame.TryNodeID, models.EdgeLabelFinally)) {
		return false, nil
	}

	// Region complete. Pop the frame, then either surface the uncaught
	// failure or continue past the done edge.
	pendingError := frame.PendingError
	tryNodeID := frame.TryNodeID
	s.exec.TryFrames = s.exec.TryFrames[:len(s.exec.TryFrames)-1]

	if pendingError != "" {
		failure := models.NewPermanentFailure(tryNodeID, pendingError)
		if s.RouteFailure(tryNodeID, failure) {
			return true, nil
		}

		return false, failure
	}

	s.enableEdges(tryNodeID, models.EdgeLabelDone)

	return true, nil
}

func (s *scheduler) advanceLoop(frame *models.LoopFrame) (bool, *models.Failure) {
	if !regionResolved(s.exec, frame.BodyNodes) {
		return false, nil
	}

	node := s.wf.NodeByID(frame.LoopNodeID)
	if node == nil {
		return false, models.NewValidationFailure(frame.LoopNodeID, "loop node disappeared from graph")
	}

	more := false

	switch node.Type {
	case models.NodeTypeLoop, models.NodeTypeFor:
		if frame.Index+1 < len(frame.Items) {
			frame.Index++
			more = true
		}

	case models.NodeTypeWhile:
		proceed, err := s.loopCondition(node)
		if err != nil {
			failure := models.AsFailure(frame.LoopNodeID, err)

			return false, failure
		}

		more = proceed

	case models.NodeTypeRepeat:
		more = frame.Iteration+1 < configInt(node.Config, "count", 0)
	}

	if more {
		frame.Iteration++
		frame.Vars = make(map[string]any)
		s.clearRegion(frame.BodyNodes)

		return true, nil
	}

	s.FinishLoop()

	return true, nil
}

// FinishLoop closes the innermost loop: skips what is left of the body, pops
// the frame and opens the done edge. Break lands here directly.
func (s *scheduler) FinishLoop() {
	frame := s.exec.InnermostLoop()
	if frame == nil {
		return
	}

	s.skipPending(frame.BodyNodes)
	s.exec.LoopFrames = s.exec.LoopFrames[:len(s.exec.LoopFrames)-1]
	s.enableEdges(frame.LoopNodeID, models.EdgeLabelDone)
}

// EndIteration skips the rest of the current loop body; the next control
// advance decides whether another iteration starts. Continue lands here.
func (s *scheduler) EndIteration() {
	frame := s.exec.InnermostLoop()
	if frame == nil {
		return
	}

	s.skipPending(frame.BodyNodes)
}

func configInt(config map[string]any, key string, fallback int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}

	return fallback
}

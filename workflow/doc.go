/*
Package workflow implements the certification workflow engine: declarative
multi-step definitions executed against capability-registered agents.

A Definition lists Steps in declared order. Each step names the capability
an agent must advertise, an optional input spec, optional conditions that
can skip it, an optional retry policy and timeout, and optional onSuccess
and onError successor step ids. Successors may point backward, so the step
graph is allowed to be cyclic; every execution carries a visit ceiling that
fails the run with WorkflowCycleDetected when routing loops.

The Engine walks one execution strictly sequentially: evaluate conditions,
resolve an agent through the registry, build the input, invoke the agent
under the step's retry policy, then route by the outcome. Failures that
survive the retry policy escalate to the definition's error handling
strategy (stop, skip, retry, fallback). Executions are bounded by an
overall timeout that marks the run cancelled without preempting an
in-flight agent call; the call's late result is discarded.

Terminal executions move to a capped completed store and publish a
workflow-completed message on the engine's bus.
*/
package workflow

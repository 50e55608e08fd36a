package llm

// DefaultModel is used when an agent does not specify a model.
const DefaultModel = "gemini-3-flash-preview"

// OptimizerModel is the model used for prompt optimization. Basic text tasks
// run on the flash tier regardless of the agent's configured model.
const OptimizerModel = "gemini-3-flash-preview"

// FallbackReply is spoken by the simulator when a model request fails, so the
// call never stalls on a model error.
const FallbackReply = "I am having trouble processing that request."

// optimizePromptTemplate wraps the agent's current system prompt in an
// optimization instruction. The %s placeholder receives the current prompt.
const optimizePromptTemplate = `Optimize the following system prompt for an AI voice agent to be more conversational, concise, and persuasive.

Current Prompt: "%s"

Output only the optimized prompt text.`

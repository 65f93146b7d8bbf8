// Package llm generates assistant replies with the OpenAI chat
// completions API. The model is given the NPCL customer service tools
// (complaint lookup, complaint registration, weather) and any tool
// calls it makes are executed in process, with results fed back until
// it answers with text.
package llm

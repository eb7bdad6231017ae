// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

// Builtin registers the standard function set. The generator may be nil
// when no OpenAI credentials are configured; utils.generate.generate then
// reports a configuration error result at call time.
func Builtin(gen *Generator) *Registry {
	r := New()
	r.Register("utils.reply.reply", Reply)
	r.RegisterSuspending("utils.request.request", Request)
	r.RegisterSuspending("utils.request.confirm", Confirm)
	r.RegisterSuspending("utils.request.select", Select)
	r.Register("utils.api.api", API)
	r.Register("utils.generate.generate", gen.Generate)
	r.Register("utils.conversation.history", ConversationHistory)
	r.Register("utils.conversation.get_conversation_history", ConversationHistory)
	return r
}

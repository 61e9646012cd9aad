package web

func (h *APIHandlers) FormCount() int {
	h.formsMu.Lock()
	defer h.formsMu.Unlock()

	return len(h.forms)
}

package api

import (
	"time"

	"desk_server/server/common/transport/httpresp"
	"desk_server/server/desk/domain"
)

type ErrorResponse = httpresp.ErrorResponse
type OKResponse = httpresp.OKResponse

type HealthResponse struct {
	Status string `json:"status"`
	Online int    `json:"online"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
}

// TicketResponse is the client-facing shape of a ticket (atendimento).
type TicketResponse struct {
	AtendimentoID         int64      `json:"atendimento_id"`
	EmpresaID             int64      `json:"empresa_id"`
	ClienteID             int64      `json:"cliente_id"`
	Situacao              string     `json:"situacao"`
	DepartamentoID        *int64     `json:"departamento_id"`
	AtendenteID           *int64     `json:"atendente_id"`
	PrimeiroAtendimentoEm *time.Time `json:"primeiro_atendimento_em"`
	EncerradoEm           *time.Time `json:"encerrado_em"`
	UltimaMensagemEm      *time.Time `json:"ultima_mensagem_em"`
	UltimaMensagem        string     `json:"ultima_mensagem"`
	CriadoEm              time.Time  `json:"criado_em"`
	AtualizadoEm          time.Time  `json:"atualizado_em"`
}

type MessageResponse struct {
	MensagemID         int64      `json:"mensagem_id"`
	AtendimentoID      int64      `json:"atendimento_id"`
	EmpresaID          int64      `json:"empresa_id"`
	Remetente          string     `json:"remetente"`
	RemetenteUsuarioID *int64     `json:"remetente_usuario_id"`
	Conteudo           *string    `json:"conteudo"`
	TipoMidia          *string    `json:"tipo_midia"`
	Midia              *string    `json:"midia"`
	RespostaAID        *int64     `json:"resposta_a_id"`
	LidaEm             *time.Time `json:"lida_em"`
	EditadaEm          *time.Time `json:"editada_em"`
	ConteudoOriginal   *string    `json:"conteudo_original"`
	CriadaEm           time.Time  `json:"criada_em"`
}

type InboundResponse struct {
	Atendimento TicketResponse  `json:"atendimento"`
	Mensagem    MessageResponse `json:"mensagem"`
	Novo        bool            `json:"novo"`
}

type BulkReadResponse struct {
	Atualizadas int64 `json:"atualizadas"`
}

type MediaResponse struct {
	URL      string     `json:"url"`
	ExpiraEm *time.Time `json:"expira_em,omitempty"`
}

func NewErrorResponse(message string) ErrorResponse {
	return httpresp.NewErrorResponse(message)
}

func NewHealthResponse(status string, online int) HealthResponse {
	return HealthResponse{Status: status, Online: online}
}

func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items}
}

func NewTicketResponse(t domain.Ticket) TicketResponse {
	return TicketResponse{
		AtendimentoID:         t.ID,
		EmpresaID:             t.TenantID,
		ClienteID:             t.ClientID,
		Situacao:              string(t.Status),
		DepartamentoID:        t.DepartmentID,
		AtendenteID:           t.AttendantID,
		PrimeiroAtendimentoEm: t.FirstHumanAt,
		EncerradoEm:           t.ClosedAt,
		UltimaMensagemEm:      t.LastMessageAt,
		UltimaMensagem:        t.LastMessagePreview,
		CriadoEm:              t.CreatedAt,
		AtualizadoEm:          t.UpdatedAt,
	}
}

func NewTicketResponses(ts []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, NewTicketResponse(t))
	}
	return out
}

func NewMessageResponse(m domain.Message) MessageResponse {
	var media *string
	if m.MediaType != nil {
		s := string(*m.MediaType)
		media = &s
	}
	return MessageResponse{
		MensagemID:         m.ID,
		AtendimentoID:      m.TicketID,
		EmpresaID:          m.TenantID,
		Remetente:          string(m.SenderType),
		RemetenteUsuarioID: m.SenderUserID,
		Conteudo:           m.Content,
		TipoMidia:          media,
		Midia:              m.MediaRef,
		RespostaAID:        m.ReplyToID,
		LidaEm:             m.ReadAt,
		EditadaEm:          m.EditedAt,
		ConteudoOriginal:   m.OriginalContent,
		CriadaEm:           m.CreatedAt,
	}
}

func NewMessageResponses(ms []domain.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, NewMessageResponse(m))
	}
	return out
}

func NewInboundResponse(res domain.InboundResult) InboundResponse {
	return InboundResponse{
		Atendimento: NewTicketResponse(res.Ticket),
		Mensagem:    NewMessageResponse(res.Message),
		Novo:        res.Created,
	}
}

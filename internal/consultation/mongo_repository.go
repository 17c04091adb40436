package consultation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoRepo struct {
	consultations *mongo.Collection
	messages      *mongo.Collection
	opinions      *mongo.Collection
}

// NewMongoRepository stores consultations in three collections of db.
func NewMongoRepository(db *mongo.Database) Repository {
	return &mongoRepo{
		consultations: db.Collection("consultations"),
		messages:      db.Collection("consultation_messages"),
		opinions:      db.Collection("consultation_opinions"),
	}
}

type consultationDoc struct {
	ID        string      `bson:"_id"`
	AgentIDs  []string    `bson:"agent_ids"`
	Mode      string      `bson:"mode"`
	Case      CaseContext `bson:"case_context"`
	State     string      `bson:"state"`
	CreatedAt time.Time   `bson:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at"`
}

type messageDoc struct {
	ID             string    `bson:"_id"`
	ConsultationID string    `bson:"consultation_id"`
	Seq            int       `bson:"seq"`
	Round          int       `bson:"round"`
	SenderKind     string    `bson:"sender_kind"`
	SenderID       string    `bson:"sender_id"`
	Content        string    `bson:"content"`
	CreatedAt      time.Time `bson:"created_at"`
}

type opinionDoc struct {
	ConsultationID string    `bson:"consultation_id"`
	AgentID        string    `bson:"agent_id"`
	Round          int       `bson:"round"`
	Diagnosis      string    `bson:"diagnosis"`
	Recommendation string    `bson:"recommendation"`
	Confidence     int       `bson:"confidence"`
	ProducedAt     time.Time `bson:"produced_at"`
}

func (r *mongoRepo) SaveConsultation(ctx context.Context, rec Record) error {
	filter := bson.M{"_id": rec.ID.String()}
	update := bson.M{
		"$set": bson.M{"state": string(rec.State), "updated_at": rec.UpdatedAt},
		"$setOnInsert": bson.M{
			"agent_ids":    rec.AgentIDs,
			"mode":         string(rec.Mode),
			"case_context": rec.Case,
			"created_at":   rec.CreatedAt,
		},
	}
	_, err := r.consultations.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (r *mongoRepo) GetConsultation(ctx context.Context, id uuid.UUID) (*Record, error) {
	var doc consultationDoc
	err := r.consultations.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Record{
		ID:        id,
		AgentIDs:  doc.AgentIDs,
		Mode:      DispatchMode(doc.Mode),
		Case:      doc.Case,
		State:     State(doc.State),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (r *mongoRepo) AppendMessage(ctx context.Context, id uuid.UUID, m Message) error {
	_, err := r.messages.InsertOne(ctx, messageDoc{
		ID:             m.ID.String(),
		ConsultationID: id.String(),
		Seq:            m.Seq,
		Round:          m.Round,
		SenderKind:     string(m.SenderKind),
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (r *mongoRepo) AppendOpinion(ctx context.Context, id uuid.UUID, o Opinion) error {
	_, err := r.opinions.InsertOne(ctx, opinionDoc{
		ConsultationID: id.String(),
		AgentID:        o.AgentID,
		Round:          o.Round,
		Diagnosis:      o.Diagnosis,
		Recommendation: o.Recommendation,
		Confidence:     o.Confidence,
		ProducedAt:     o.ProducedAt,
	})
	return err
}

func (r *mongoRepo) ReadMessages(ctx context.Context, id uuid.UUID) ([]Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := r.messages.Find(ctx, bson.M{"consultation_id": id.String()}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(docs))
	for _, d := range docs {
		mid, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Message{
			ID:         mid,
			Seq:        d.Seq,
			Round:      d.Round,
			SenderKind: SenderKind(d.SenderKind),
			SenderID:   d.SenderID,
			Content:    d.Content,
			CreatedAt:  d.CreatedAt,
		})
	}
	return out, nil
}

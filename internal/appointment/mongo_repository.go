package appointment

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	providersCollection    = "providers"
	slotsCollection        = "slots"
	appointmentsCollection = "appointments"
	eventLogsCollection    = "event_logs"
)

// MongoRepository stores the schedule as documents. Reservation relies on a
// single-document conditional update, so the coordinator uses lock-first
// ordering against it.
type MongoRepository struct {
	providers    *mongo.Collection
	slots        *mongo.Collection
	appointments *mongo.Collection
	events       *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		providers:    db.Collection(providersCollection),
		slots:        db.Collection(slotsCollection),
		appointments: db.Collection(appointmentsCollection),
		events:       db.Collection(eventLogsCollection),
	}
}

type providerDoc struct {
	ID             string    `bson:"_id"`
	Name           string    `bson:"name"`
	Specialization string    `bson:"specialization"`
	FeeCents       int64     `bson:"feeCents"`
	Bio            string    `bson:"bio"`
	Weekly         []bool    `bson:"weekly"`
	AvgRating      float64   `bson:"avgRating"`
	RatingCount    int       `bson:"ratingCount"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}

type appointmentDoc struct {
	ID          string      `bson:"_id"`
	ProviderID  string      `bson:"providerId"`
	Date        string      `bson:"date"`
	Start       string      `bson:"start"`
	End         string      `bson:"end"`
	RequesterID string      `bson:"requesterId"`
	Contact     Contact     `bson:"contact"`
	Reason      string      `bson:"reason,omitempty"`
	Notes       string      `bson:"notes,omitempty"`
	Pet         *PetProfile `bson:"pet,omitempty"`
	Status      string      `bson:"status"`
	CreatedAt   time.Time   `bson:"createdAt"`
	UpdatedAt   time.Time   `bson:"updatedAt"`
}

type holdDoc struct {
	RequesterID   string         `bson:"requesterId"`
	AppointmentID string         `bson:"appointmentId"`
	Appointment   appointmentDoc `bson:"appointment"`
	HeldAt        time.Time      `bson:"heldAt"`
}

type slotDoc struct {
	ID         string    `bson:"_id"`
	ProviderID string    `bson:"providerId"`
	Date       string    `bson:"date"`
	Start      string    `bson:"start"`
	End        string    `bson:"end"`
	State      string    `bson:"state"`
	ReservedBy string    `bson:"reservedBy,omitempty"`
	Hold       *holdDoc  `bson:"hold,omitempty"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

type eventDoc struct {
	EventType     string    `bson:"eventType"`
	ProviderID    string    `bson:"providerId,omitempty"`
	Date          string    `bson:"date,omitempty"`
	Start         string    `bson:"start,omitempty"`
	AppointmentID string    `bson:"appointmentId,omitempty"`
	Payload       []byte    `bson:"payload,omitempty"`
	CreatedAt     time.Time `bson:"createdAt"`
}

func toAppointmentDoc(a Appointment) appointmentDoc {
	return appointmentDoc{
		ID:          a.ID.String(),
		ProviderID:  a.ProviderID,
		Date:        a.Date.String(),
		Start:       a.Start,
		End:         a.End,
		RequesterID: a.RequesterID,
		Contact:     a.Contact,
		Reason:      a.Reason,
		Notes:       a.Notes,
		Pet:         a.Pet,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func (d appointmentDoc) model() (Appointment, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return Appointment{}, errors.Wrapf(err, "decode appointment id %q", d.ID)
	}
	return Appointment{
		ID:          id,
		ProviderID:  d.ProviderID,
		Date:        Date(d.Date),
		Start:       d.Start,
		End:         d.End,
		RequesterID: d.RequesterID,
		Contact:     d.Contact,
		Reason:      d.Reason,
		Notes:       d.Notes,
		Pet:         d.Pet,
		Status:      AppointmentStatus(d.Status),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

func (d slotDoc) model() (Slot, error) {
	s := Slot{
		ProviderID: d.ProviderID,
		Date:       Date(d.Date),
		Start:      d.Start,
		End:        d.End,
		State:      SlotState(d.State),
		ReservedBy: d.ReservedBy,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	if d.Hold != nil {
		appt, err := d.Hold.Appointment.model()
		if err != nil {
			return Slot{}, err
		}
		s.Hold = &Hold{RequesterID: d.Hold.RequesterID, Appointment: appt, HeldAt: d.Hold.HeldAt}
	}
	return s, nil
}

// EnsureIndexes creates the unique slot key index and the availability query index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := r.slots.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "providerId", Value: 1}, {Key: "date", Value: 1}, {Key: "start", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("unique_slot_key"),
		},
		{
			Keys:    bson.D{{Key: "providerId", Value: 1}, {Key: "date", Value: 1}, {Key: "state", Value: 1}},
			Options: options.Index().SetName("provider_date_state_idx"),
		},
		{
			Keys:    bson.D{{Key: "state", Value: 1}, {Key: "hold.appointmentId", Value: 1}},
			Options: options.Index().SetName("state_hold_idx"),
		},
	})
	if err != nil {
		return unavailable(err, "create slot indexes")
	}

	_, err = r.appointments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "providerId", Value: 1}, {Key: "date", Value: 1}, {Key: "start", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("unique_appointment_slot"),
	})
	if err != nil {
		return unavailable(err, "create appointment indexes")
	}
	return nil
}

func (r *MongoRepository) UpsertProvider(ctx context.Context, p Provider) error {
	doc := providerDoc{
		ID:             p.ID,
		Name:           p.Name,
		Specialization: p.Specialization,
		FeeCents:       p.FeeCents,
		Bio:            p.Bio,
		Weekly:         p.Weekly[:],
		AvgRating:      p.AvgRating,
		RatingCount:    p.RatingCount,
		UpdatedAt:      time.Now(),
	}
	_, err := r.providers.ReplaceOne(ctx, bson.M{"_id": p.ID}, doc, options.Replace().SetUpsert(true))
	return unavailable(err, "upsert provider")
}

func (d providerDoc) model() Provider {
	p := Provider{
		ID:             d.ID,
		Name:           d.Name,
		Specialization: d.Specialization,
		FeeCents:       d.FeeCents,
		Bio:            d.Bio,
		AvgRating:      d.AvgRating,
		RatingCount:    d.RatingCount,
	}
	copy(p.Weekly[:], d.Weekly)
	return p
}

func (r *MongoRepository) GetProvider(ctx context.Context, id string) (*Provider, error) {
	var doc providerDoc
	if err := r.providers.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrProviderNotFound
		}
		return nil, unavailable(err, "find provider")
	}
	p := doc.model()
	return &p, nil
}

func (r *MongoRepository) ListProviders(ctx context.Context) ([]Provider, error) {
	cursor, err := r.providers.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, unavailable(err, "find providers")
	}
	defer cursor.Close(ctx)

	var docs []providerDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, unavailable(err, "decode providers")
	}
	out := make([]Provider, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (r *MongoRepository) InsertSlotIfAbsent(ctx context.Context, slot Slot) (bool, error) {
	doc := slotDoc{
		ID:         slot.Key().String(),
		ProviderID: slot.ProviderID,
		Date:       slot.Date.String(),
		Start:      slot.Start,
		End:        slot.End,
		State:      string(slot.State),
		CreatedAt:  slot.CreatedAt,
		UpdatedAt:  slot.UpdatedAt,
	}

	res, err := r.slots.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		// Two concurrent upserts of the same key: the loser sees a duplicate key.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, unavailable(err, "upsert slot")
	}
	return res.UpsertedCount == 1, nil
}

func (r *MongoRepository) GetSlot(ctx context.Context, key SlotKey) (*Slot, error) {
	var doc slotDoc
	if err := r.slots.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrSlotNotFound
		}
		return nil, unavailable(err, "find slot")
	}
	s, err := doc.model()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *MongoRepository) decodeSlots(ctx context.Context, cursor *mongo.Cursor) ([]Slot, error) {
	defer cursor.Close(ctx)

	var docs []slotDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, unavailable(err, "decode slots")
	}
	out := make([]Slot, 0, len(docs))
	for _, d := range docs {
		s, err := d.model()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *MongoRepository) ListSlots(ctx context.Context, providerID string, date Date, state SlotState) ([]Slot, error) {
	filter := bson.M{"providerId": providerID, "date": date.String(), "state": string(state)}
	cursor, err := r.slots.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "start", Value: 1}}))
	if err != nil {
		return nil, unavailable(err, "find slots")
	}
	return r.decodeSlots(ctx, cursor)
}

func (r *MongoRepository) ReserveSlot(ctx context.Context, key SlotKey, hold Hold) (*Slot, error) {
	appt := toAppointmentDoc(hold.Appointment)
	update := bson.M{
		"$set": bson.M{
			"state":      string(SlotReserved),
			"reservedBy": hold.RequesterID,
			"hold": holdDoc{
				RequesterID:   hold.RequesterID,
				AppointmentID: appt.ID,
				Appointment:   appt,
				HeldAt:        hold.HeldAt,
			},
			"updatedAt": hold.HeldAt,
		},
	}

	var doc slotDoc
	err := r.slots.FindOneAndUpdate(ctx,
		bson.M{"_id": key.String(), "state": string(SlotFree)},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, unavailable(err, "reserve slot")
		}
		// Precondition failed: distinguish a taken slot from a missing one.
		if _, getErr := r.GetSlot(ctx, key); getErr != nil {
			return nil, getErr
		}
		return nil, ErrSlotConflict
	}

	s, err := doc.model()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *MongoRepository) InsertAppointment(ctx context.Context, a Appointment) error {
	_, err := r.appointments.InsertOne(ctx, toAppointmentDoc(a))
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return unavailable(err, "insert appointment")
	}

	// A duplicate on _id is a replay of the same write. A duplicate on the
	// slot index means a different appointment owns the slot.
	if _, getErr := r.GetAppointment(ctx, a.ID); getErr == nil {
		return nil
	}
	return ErrSlotConflict
}

func (r *MongoRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var doc appointmentDoc
	if err := r.appointments.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAppointmentNotFound
		}
		return nil, unavailable(err, "find appointment")
	}
	a, err := doc.model()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *MongoRepository) ListOrphanedHolds(ctx context.Context, limit int) ([]Slot, error) {
	if limit <= 0 {
		limit = 100
	}
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"state": string(SlotReserved), "hold": bson.M{"$exists": true}}}},
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         appointmentsCollection,
			"localField":   "hold.appointmentId",
			"foreignField": "_id",
			"as":           "written",
		}}},
		bson.D{{Key: "$match", Value: bson.M{"written": bson.M{"$size": 0}}}},
		bson.D{{Key: "$sort", Value: bson.M{"updatedAt": 1}}},
		bson.D{{Key: "$limit", Value: limit}},
		bson.D{{Key: "$project", Value: bson.M{"written": 0}}},
	}

	cursor, err := r.slots.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, unavailable(err, "aggregate orphaned holds")
	}
	return r.decodeSlots(ctx, cursor)
}

func (r *MongoRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	doc := eventDoc{
		EventType:  ev.EventType,
		ProviderID: ev.ProviderID,
		Date:       ev.Date.String(),
		Start:      ev.Start,
		Payload:    ev.Payload,
		CreatedAt:  ev.CreatedAt,
	}
	if ev.AppointmentID != nil {
		doc.AppointmentID = ev.AppointmentID.String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := r.events.InsertOne(ctx, doc)
	return unavailable(err, "insert event log")
}

package dataset

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sci-ndp/ndp-catalog-adapter/catalog"
	cErrors "github.com/sci-ndp/ndp-catalog-adapter/errors"
	"github.com/sci-ndp/ndp-catalog-adapter/extras"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// Resource formats identifying single-resource dataset kinds.
const (
	FormatKafka   = "kafka"
	FormatS3      = "s3"
	FormatURL     = "url"
	FormatService = "service"
)

// ServicesOrganization is the only organization that may own services.
const ServicesOrganization = "services"

// KafkaRequest registers a dataset pointing at a Kafka topic. Port may be an
// integer or a numeric string.
type KafkaRequest struct {
	Name        string                 `json:"dataset_name"`
	Title       string                 `json:"dataset_title"`
	OwnerOrg    string                 `json:"owner_org"`
	Topic       string                 `json:"kafka_topic"`
	Host        string                 `json:"kafka_host"`
	Port        interface{}            `json:"kafka_port"`
	Description string                 `json:"dataset_description,omitempty"`
	Extras      interface{}            `json:"extras,omitempty"`
	Mapping     map[string]interface{} `json:"mapping,omitempty"`
	Processing  map[string]interface{} `json:"processing,omitempty"`
}

type KafkaUpdate struct {
	Name        *string                `json:"dataset_name,omitempty"`
	Title       *string                `json:"dataset_title,omitempty"`
	OwnerOrg    *string                `json:"owner_org,omitempty"`
	Topic       *string                `json:"kafka_topic,omitempty"`
	Host        *string                `json:"kafka_host,omitempty"`
	Port        interface{}            `json:"kafka_port,omitempty"`
	Description *string                `json:"dataset_description,omitempty"`
	Extras      interface{}            `json:"extras,omitempty"`
	Mapping     map[string]interface{} `json:"mapping,omitempty"`
	Processing  map[string]interface{} `json:"processing,omitempty"`
}

// S3Request registers a dataset pointing at an object store key.
type S3Request struct {
	Name     string      `json:"resource_name"`
	Title    string      `json:"resource_title"`
	OwnerOrg string      `json:"owner_org"`
	S3       string      `json:"resource_s3"`
	Notes    string      `json:"notes,omitempty"`
	Extras   interface{} `json:"extras,omitempty"`
}

type S3Update struct {
	Name     *string     `json:"resource_name,omitempty"`
	Title    *string     `json:"resource_title,omitempty"`
	OwnerOrg *string     `json:"owner_org,omitempty"`
	S3       *string     `json:"resource_s3,omitempty"`
	Notes    *string     `json:"notes,omitempty"`
	Extras   interface{} `json:"extras,omitempty"`
}

// URLRequest registers a dataset pointing at a remote file or stream.
type URLRequest struct {
	Name       string                 `json:"resource_name"`
	Title      string                 `json:"resource_title"`
	OwnerOrg   string                 `json:"owner_org"`
	URL        string                 `json:"resource_url"`
	FileType   string                 `json:"file_type,omitempty"`
	Notes      string                 `json:"notes,omitempty"`
	Extras     interface{}            `json:"extras,omitempty"`
	Mapping    map[string]interface{} `json:"mapping,omitempty"`
	Processing map[string]interface{} `json:"processing,omitempty"`
}

type URLUpdate struct {
	Name       *string                `json:"resource_name,omitempty"`
	Title      *string                `json:"resource_title,omitempty"`
	OwnerOrg   *string                `json:"owner_org,omitempty"`
	URL        *string                `json:"resource_url,omitempty"`
	FileType   *string                `json:"file_type,omitempty"`
	Notes      *string                `json:"notes,omitempty"`
	Extras     interface{}            `json:"extras,omitempty"`
	Mapping    map[string]interface{} `json:"mapping,omitempty"`
	Processing map[string]interface{} `json:"processing,omitempty"`
}

// ServiceRequest registers a service endpoint.
type ServiceRequest struct {
	Name             string      `json:"service_name"`
	Title            string      `json:"service_title"`
	OwnerOrg         string      `json:"owner_org"`
	URL              string      `json:"service_url"`
	Type             string      `json:"service_type,omitempty"`
	Notes            string      `json:"notes,omitempty"`
	Extras           interface{} `json:"extras,omitempty"`
	HealthCheckURL   string      `json:"health_check_url,omitempty"`
	DocumentationURL string      `json:"documentation_url,omitempty"`
}

// RegisterKafka creates a Kafka topic dataset and its single resource.
func (s *Service) RegisterKafka(ctx context.Context, sel catalog.Selector, req KafkaRequest) (string, error) {
	if err := requireFields(
		field{"dataset_name", req.Name},
		field{"dataset_title", req.Title},
		field{"owner_org", req.OwnerOrg},
		field{"kafka_topic", req.Topic},
		field{"kafka_host", req.Host},
	); err != nil {
		return "", err
	}
	port, err := kafkaPort(req.Port)
	if err != nil {
		return "", err
	}
	pairs, err := extras.Encode(req.Extras, extras.KafkaTopic)
	if err != nil {
		return "", err
	}
	client, err := s.resolver.Resolve(sel, true)
	if err != nil {
		return "", err
	}
	if err := s.verifyTopic(ctx, req.Host, port, req.Topic); err != nil {
		return "", err
	}

	fields := extras.Decode(pairs)
	fields["host"] = req.Host
	fields["port"] = cast.ToString(port)
	fields["topic"] = req.Topic
	if err := setStructured(fields, req.Mapping, req.Processing); err != nil {
		return "", err
	}

	d := &catalog.Dataset{
		Name:      req.Name,
		Title:     req.Title,
		OwnerOrg:  req.OwnerOrg,
		Notes:     req.Description,
		Extras:    extras.FromMap(fields),
		Resources: []catalog.Resource{},
	}
	return s.create(ctx, client, sel, d, []catalog.Resource{{
		Name:        req.Topic,
		Description: fmt.Sprintf("Kafka topic %s hosted at %s:%d", req.Topic, req.Host, port),
		Format:      FormatKafka,
	}})
}

// RegisterS3 creates an S3 pointer dataset and its single resource.
func (s *Service) RegisterS3(ctx context.Context, sel catalog.Selector, req S3Request) (string, error) {
	if err := requireFields(
		field{"resource_name", req.Name},
		field{"resource_title", req.Title},
		field{"owner_org", req.OwnerOrg},
		field{"resource_s3", req.S3},
	); err != nil {
		return "", err
	}
	pairs, err := extras.Encode(req.Extras, extras.S3Object)
	if err != nil {
		return "", err
	}
	client, err := s.resolver.Resolve(sel, true)
	if err != nil {
		return "", err
	}
	if err := s.verifyObject(ctx, req.S3); err != nil {
		return "", err
	}

	d := &catalog.Dataset{
		Name:      req.Name,
		Title:     req.Title,
		OwnerOrg:  req.OwnerOrg,
		Notes:     req.Notes,
		Extras:    pairs,
		Resources: []catalog.Resource{},
	}
	return s.create(ctx, client, sel, d, []catalog.Resource{{
		URL:         req.S3,
		Name:        req.Name,
		Description: fmt.Sprintf("Resource pointing to %s", req.S3),
		Format:      FormatS3,
	}})
}

// RegisterURL creates a URL pointer dataset and its single resource.
func (s *Service) RegisterURL(ctx context.Context, sel catalog.Selector, req URLRequest) (string, error) {
	if err := requireFields(
		field{"resource_name", req.Name},
		field{"resource_title", req.Title},
		field{"owner_org", req.OwnerOrg},
		field{"resource_url", req.URL},
	); err != nil {
		return "", err
	}
	if err := validateFileType(req.FileType); err != nil {
		return "", err
	}
	if req.Processing != nil {
		if err := ValidateProcessing(req.FileType, req.Processing); err != nil {
			return "", err
		}
	}
	pairs, err := extras.Encode(req.Extras, extras.URLPointer)
	if err != nil {
		return "", err
	}
	client, err := s.resolver.Resolve(sel, true)
	if err != nil {
		return "", err
	}

	fields := extras.Decode(pairs)
	if req.FileType != "" {
		fields["file_type"] = req.FileType
	}
	if err := setStructured(fields, req.Mapping, req.Processing); err != nil {
		return "", err
	}

	d := &catalog.Dataset{
		Name:      req.Name,
		Title:     req.Title,
		OwnerOrg:  req.OwnerOrg,
		Notes:     req.Notes,
		Extras:    extras.FromMap(fields),
		Resources: []catalog.Resource{},
	}
	return s.create(ctx, client, sel, d, []catalog.Resource{{
		URL:         req.URL,
		Name:        req.Name,
		Description: fmt.Sprintf("Resource pointing to %s", req.URL),
		Format:      FormatURL,
	}})
}

// RegisterService creates a service registry dataset owned by the services
// organization.
func (s *Service) RegisterService(ctx context.Context, sel catalog.Selector, req ServiceRequest) (string, error) {
	if err := requireFields(
		field{"service_name", req.Name},
		field{"service_title", req.Title},
		field{"owner_org", req.OwnerOrg},
		field{"service_url", req.URL},
	); err != nil {
		return "", err
	}
	if req.OwnerOrg != ServicesOrganization {
		return "", cErrors.InvalidInput("owner_org must be %q for service registration", ServicesOrganization)
	}
	pairs, err := extras.Encode(req.Extras, extras.ServiceRegistry)
	if err != nil {
		return "", err
	}
	client, err := s.resolver.Resolve(sel, true)
	if err != nil {
		return "", err
	}
	if err := checkPreCatalog(sel, preCatalogDocument{
		title:  req.Title,
		notes:  req.Notes,
		extras: extras.Decode(pairs),
	}); err != nil {
		return "", err
	}

	fields := extras.Decode(pairs)
	for k, v := range map[string]string{
		"service_type":      req.Type,
		"health_check_url":  req.HealthCheckURL,
		"documentation_url": req.DocumentationURL,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	notes := req.Notes
	if notes == "" {
		notes = "Service: " + req.Title
	}

	d := &catalog.Dataset{
		Name:      req.Name,
		Title:     req.Title,
		OwnerOrg:  req.OwnerOrg,
		Notes:     notes,
		Extras:    extras.FromMap(fields),
		Resources: []catalog.Resource{},
	}
	return s.create(ctx, client, sel, d, []catalog.Resource{{
		URL:         req.URL,
		Name:        req.Name,
		Description: fmt.Sprintf("Service endpoint for %s accessible at %s", req.Title, req.URL),
		Format:      FormatService,
	}})
}

// UpdateKafka updates a Kafka topic dataset. Connection extras are only
// touched when one of topic, host or port is supplied.
func (s *Service) UpdateKafka(ctx context.Context, sel catalog.Selector, id string, req KafkaUpdate) (string, error) {
	var port string
	if req.Port != nil {
		p, err := kafkaPort(req.Port)
		if err != nil {
			return "", err
		}
		port = cast.ToString(p)
	}
	return s.updatePointer(ctx, sel, id, pointerUpdate{
		name:     req.Name,
		title:    req.Title,
		ownerOrg: req.OwnerOrg,
		notes:    req.Description,
		extras:   req.Extras,
		reserved: extras.KafkaTopic,
		kind: func(fields map[string]string) error {
			if req.Topic != nil || req.Host != nil || port != "" {
				setIfNonEmpty(fields, "topic", req.Topic)
				setIfNonEmpty(fields, "host", req.Host)
				if port != "" {
					fields["port"] = port
				}
			}
			return setStructured(fields, req.Mapping, req.Processing)
		},
	})
}

// UpdateS3 updates an S3 pointer dataset and, when a new key is supplied,
// its s3 resource.
func (s *Service) UpdateS3(ctx context.Context, sel catalog.Selector, id string, req S3Update) (string, error) {
	return s.updatePointer(ctx, sel, id, pointerUpdate{
		name:     req.Name,
		title:    req.Title,
		ownerOrg: req.OwnerOrg,
		notes:    req.Notes,
		extras:   req.Extras,
		reserved: extras.S3Object,
		format:   FormatS3,
		url:      req.S3,
		verify: func(ctx context.Context) error {
			if req.S3 == nil || *req.S3 == "" {
				return nil
			}
			return s.verifyObject(ctx, *req.S3)
		},
	})
}

// UpdateURL updates a URL pointer dataset. Processing is validated against
// the new file type, or the current one when the file type is unchanged.
func (s *Service) UpdateURL(ctx context.Context, sel catalog.Selector, id string, req URLUpdate) (string, error) {
	if req.FileType != nil {
		if err := validateFileType(*req.FileType); err != nil {
			return "", err
		}
	}
	return s.updatePointer(ctx, sel, id, pointerUpdate{
		name:     req.Name,
		title:    req.Title,
		ownerOrg: req.OwnerOrg,
		notes:    req.Notes,
		extras:   req.Extras,
		reserved: extras.URLPointer,
		format:   FormatURL,
		url:      req.URL,
		kind: func(fields map[string]string) error {
			current := fields["file_type"]
			processing := req.Processing
			switch {
			case req.FileType != nil && *req.FileType != "" && *req.FileType != current:
				if processing == nil {
					processing = currentProcessing(fields)
				}
				if err := ValidateProcessing(*req.FileType, processing); err != nil {
					return err
				}
				fields["file_type"] = *req.FileType
			case processing != nil:
				if err := ValidateProcessing(current, processing); err != nil {
					return err
				}
			}
			if err := setStructured(fields, req.Mapping, nil); err != nil {
				return err
			}
			if processing != nil {
				v, err := extras.EncodeValue(processing)
				if err != nil {
					return cErrors.InvalidInput("processing cannot be encoded: %v", err)
				}
				fields[extras.ProcessingKey] = v
			}
			return nil
		},
	})
}

// pointerUpdate describes an update of a single-resource dataset.
type pointerUpdate struct {
	name, title, ownerOrg, notes *string

	extras   interface{}
	reserved extras.KeySet

	// kind sets the kind-specific extras on the merged mapping.
	kind func(fields map[string]string) error

	// format identifies the resource whose URL is replaced by url.
	format string
	url    *string

	// verify runs once the backend is resolved, before it is contacted.
	verify func(ctx context.Context) error
}

func (s *Service) updatePointer(ctx context.Context, sel catalog.Selector, id string, u pointerUpdate) (string, error) {
	if id == "" {
		return "", cErrors.InvalidInput("dataset id is required")
	}
	var incoming map[string]string
	if u.extras != nil {
		pairs, err := extras.Encode(u.extras, u.reserved)
		if err != nil {
			return "", err
		}
		incoming = extras.Decode(pairs)
	}
	client, err := s.resolver.Resolve(sel, true)
	if err != nil {
		return "", err
	}

	if u.verify != nil {
		if err := u.verify(ctx); err != nil {
			return "", err
		}
	}

	logger := s.logger.WithFields(logrus.Fields{"server": sel, "id": id})

	d, err := client.PackageShow(ctx, id)
	if err != nil {
		return "", cErrors.Classify(err, "error fetching dataset")
	}

	setNonEmpty(&d.Name, u.name)
	setNonEmpty(&d.Title, u.title)
	setNonEmpty(&d.OwnerOrg, u.ownerOrg)
	setNonEmpty(&d.Notes, u.notes)

	fields := extras.Decode(extras.Merge(d.Extras, incoming))
	if u.kind != nil {
		if err := u.kind(fields); err != nil {
			return "", err
		}
	}
	d.Extras = extras.FromMap(fields)
	if d.Resources == nil {
		d.Resources = []catalog.Resource{}
	}

	updated, err := client.PackageUpdate(ctx, d)
	if err != nil {
		logger.WithError(err).Warn("Error updating dataset")
		return "", cErrors.Classify(err, "error updating dataset")
	}

	if u.url != nil && *u.url != "" {
		for _, r := range updated.Resources {
			if !strings.EqualFold(r.Format, u.format) {
				continue
			}
			r.URL = *u.url
			r.PackageID = updated.ID
			if _, err := client.ResourceUpdate(ctx, &r); err != nil {
				logger.WithError(err).Warn("Error updating resource")
				return "", cErrors.Classify(err, "error updating resource")
			}
			break
		}
	}

	logger.Info("Dataset updated")
	return updated.ID, nil
}

func (s *Service) verifyTopic(ctx context.Context, host string, port int, topic string) error {
	if s.prober == nil {
		return nil
	}
	ok, err := s.prober.TopicExists(ctx, host, port, topic)
	if err != nil {
		return cErrors.Backend(err, "error verifying kafka topic")
	}
	if !ok {
		return cErrors.InvalidInput("kafka topic %q does not exist at %s:%d", topic, host, port)
	}
	return nil
}

func (s *Service) verifyObject(ctx context.Context, uri string) error {
	if s.objects == nil {
		return nil
	}
	ok, err := s.objects.Exists(ctx, uri)
	if err != nil {
		return cErrors.Backend(err, "error verifying s3 object")
	}
	if !ok {
		return cErrors.InvalidInput("s3 object %q does not exist", uri)
	}
	return nil
}

func kafkaPort(v interface{}) (int, error) {
	port, err := cast.ToIntE(v)
	if err != nil || port <= 0 || port > 65535 {
		return 0, cErrors.InvalidInput("kafka_port must be an integer, got %v", v)
	}
	return port, nil
}

// setStructured stores the non-empty mapping and processing documents as
// JSON strings.
func setStructured(fields map[string]string, mapping, processing map[string]interface{}) error {
	for key, doc := range map[string]map[string]interface{}{
		extras.MappingKey:    mapping,
		extras.ProcessingKey: processing,
	} {
		if len(doc) == 0 {
			continue
		}
		v, err := extras.EncodeValue(doc)
		if err != nil {
			return cErrors.InvalidInput("%s cannot be encoded: %v", key, err)
		}
		fields[key] = v
	}
	return nil
}

// currentProcessing returns the stored processing document, or an empty one
// when it is absent or not a JSON object.
func currentProcessing(fields map[string]string) map[string]interface{} {
	e := extras.DecodeExtras([]extras.Pair{{Key: extras.ProcessingKey, Value: fields[extras.ProcessingKey]}})
	if m := e.ProcessingMap(); m != nil {
		return m
	}
	return map[string]interface{}{}
}

func setIfNonEmpty(fields map[string]string, key string, v *string) {
	if v != nil && *v != "" {
		fields[key] = *v
	}
}

// File types accepted for URL datasets and the processing fields each one
// accepts and requires.
var (
	processingExpected = map[string][]string{
		"stream": {"refresh_rate", "data_key"},
		"CSV":    {"delimiter", "header_line", "start_line", "comment_char"},
		"TXT":    {"delimiter", "header_line", "start_line"},
		"JSON":   {"info_key", "additional_key", "data_key"},
		"NetCDF": {"group"},
	}
	processingRequired = map[string][]string{
		"CSV": {"delimiter", "header_line", "start_line"},
		"TXT": {"delimiter", "header_line", "start_line"},
	}
)

func validateFileType(fileType string) error {
	if fileType == "" {
		return nil
	}
	if _, ok := processingExpected[fileType]; !ok {
		return cErrors.InvalidInput("unsupported file_type %q", fileType)
	}
	return nil
}

// ValidateProcessing checks the processing document of a URL dataset against
// its file type.
func ValidateProcessing(fileType string, processing map[string]interface{}) error {
	expected := map[string]bool{}
	for _, k := range processingExpected[fileType] {
		expected[k] = true
	}
	var unexpected []string
	for k := range processing {
		if !expected[k] {
			unexpected = append(unexpected, k)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return cErrors.InvalidInput("unexpected fields in processing for %s: %s", fileType, strings.Join(unexpected, ", "))
	}
	var missing []string
	for _, k := range processingRequired[fileType] {
		if _, ok := processing[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return cErrors.InvalidInput("missing required fields in processing for %s: %s", fileType, strings.Join(missing, ", "))
	}
	return nil
}
